package main

import "github.com/sarchlab/gpuprobe/gpuprobe/cmd"

func main() {
	cmd.Execute()
}
