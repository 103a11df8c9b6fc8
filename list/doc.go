// Package list provides the fixed-width append list, usable on its own and
// as the store behind the resource hash's prefix dictionary.
package list
