package main

import "wheelsmith-tools/go/wheelsmith/cmd"

func main() {
	cmd.Execute()
}
