package main

import "github.com/Anko59/AutoHubble/internal/cli"

func main() {
	cli.Execute()
}
