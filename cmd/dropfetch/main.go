// Package main provides the entry point for the dropfetch CLI.
//
// dropfetch resolves gallery pages, direct file links and S3 prefixes into
// files and downloads them with per-host rate limits, resume and
// verification.
//
// Usage:
//
//	dropfetch get <url>...
//	dropfetch get -i urls.txt -d ./downloads
//
// See --help for all available options.
package main

func main() {
	Execute()
}
