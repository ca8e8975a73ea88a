package main

import (
	"log"

	"github.com/zaylenc/wxvault/cmd/wxvault"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	wxvault.Execute()
}
