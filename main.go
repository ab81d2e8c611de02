package main

import "github.com/djcass44/envlock/cmd"

var version = "0.0.0-dev"

func main() {
	cmd.Execute(version)
}
