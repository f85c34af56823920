package main

import "github.com/ray-project/distributed-zkml/cmd"

func main() {
	cmd.Execute()
}
