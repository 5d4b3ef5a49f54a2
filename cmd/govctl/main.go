package main

import "github.com/chainsafe/senate-indexer/internal/govctl"

func main() {
	govctl.Main()
}
