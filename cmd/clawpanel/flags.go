package main

import "time"

// ServeFlags Flag structs to decouple cobra from logic for testing.
type ServeFlags struct {
	Listen      string
	StartOnBoot bool
}

type StatusFlags struct {
	Service string
	Refresh bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type OpFlags struct {
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type WatchFlags struct {
	Interval time.Duration
	Count    int
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}
