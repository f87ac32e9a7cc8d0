package main

import (
	"github.com/Paintersrp/thrash/internal/cli"
	"github.com/Paintersrp/thrash/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
