package main

import "github.com/CosmoTheDev/scanpipe/cmd"

func main() {
	cmd.Execute()
}
