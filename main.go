package main

import (
	"github.com/homelab-ops/mirrorsync/cmd"
)

func main() {
	cmd.Execute()
}
