package main

import "github.com/RyanBlaney/sonido-vocal/cli"

func main() {
	cli.Execute()
}
