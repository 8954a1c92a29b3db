/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage copies finished clips to object storage.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ObjectStore abstracts object storage operations.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ClipKey returns the object key of a clip file under prefix.
func ClipKey(prefix, node, clipPath string) string {
	parts := []string{strings.Trim(prefix, "/"), node, filepath.Base(clipPath)}
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return path.Join(kept...)
}

// UploadFile stores the file at localPath under key.
func UploadFile(ctx context.Context, store ObjectStore, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", localPath, err)
	}
	if err := store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
