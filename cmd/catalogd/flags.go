package main

import "time"

// GlobalFlags holds the persistent flags.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags select the daemon a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string // trust this certificate for https daemons
	Insecure   bool
	Token      string
}

type TokenFlags struct {
	APIFlags
	ClientID     string
	ClientSecret string
}

type ProductsFlags struct {
	APIFlags
	Page     int
	Limit    int
	Search   string
	Category string
	Brand    string
}

type SearchFlags struct {
	APIFlags
	Query    string
	Category string
	Brand    string
	Sort     string
	Desc     bool
}

type RunsFlags struct {
	APIFlags
	ID string
}
