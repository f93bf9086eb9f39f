// Package input reads input URLs from free text.
//
// An input file may hold pasted paragraphs or markup; every http, https
// or s3 link in it is taken. Lines starting with "#" are comments and a
// line holding only "#" opens or closes a comment block. A line starting
// with "---" or "===" begins a group: the rest of the line names the
// destination sub folder for the links that follow, and a bare marker
// ends the group.
package input
