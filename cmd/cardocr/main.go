package main

import (
	"github.com/phandanh111/ocr-cccd-card/cmd/cardocr/cmd"
)

func main() {
	cmd.Execute()
}
