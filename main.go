// Package main is the entry point for the mcstats CLI tool, which imports
// Minecraft per-player statistics into a query-optimized leaderboard store.
package main

import "github.com/minecraft-gilde/importer/cmd"

func main() {
	cmd.Execute()
}
