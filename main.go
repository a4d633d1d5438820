package main

import (
	"os"

	"github.com/Super-Brother/TextSearcher/app"
)

func main() {
	os.Exit(app.Run())
}
