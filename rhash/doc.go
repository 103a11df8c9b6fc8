// Package rhash maps RIDs to variable-length resource records (lexical
// plus an opaque attribute) with codec-aware inline and external storage,
// resizable in place.
package rhash
