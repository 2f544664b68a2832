package utils

import (
	"errors"
	"path"
	"strings"
)

var ErrInvalidObjectRef = errors.New("invalid object reference")

// ObjectRef joins a category and storage name into the stable reference
// stored on records. Both parts must be single, non-traversing path segments.
func ObjectRef(category, name string) (string, error) {
	if !isSafeSegment(category) || !isSafeSegment(name) {
		return "", ErrInvalidObjectRef
	}
	return category + "/" + name, nil
}

// SplitObjectRef is the inverse of ObjectRef.
func SplitObjectRef(ref string) (category, name string, err error) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || !isSafeSegment(parts[0]) || !isSafeSegment(parts[1]) {
		return "", "", ErrInvalidObjectRef
	}
	return parts[0], parts[1], nil
}

func isSafeSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	if strings.ContainsAny(s, "/\\") || strings.Contains(s, "..") {
		return false
	}
	return path.Clean(s) == s
}

// ObjectKey prefixes ref with an optional bucket prefix (e.g. "claims").
func ObjectKey(prefix, ref string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ref
	}
	return prefix + "/" + ref
}

// RefFromObjectKey strips the bucket prefix added by ObjectKey.
func RefFromObjectKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, prefix+"/")
}
