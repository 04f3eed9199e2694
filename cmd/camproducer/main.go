package main

import "camproducer/cmd/camproducer/commands"

func main() {
	commands.Execute()
}
