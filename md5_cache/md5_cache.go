/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

// Package md5_cache remembers the MD5 checksums of local files, keyed by
// path, size and modification time, so unchanged files are not re-hashed
// every time an upload checks whether the remote copy is identical.
package md5_cache

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ZeroMD5 is the checksum of empty content.
const ZeroMD5 = "d41d8cd98f00b204e9800998ecf8427e"

const memoryPath = ":memory:"

// Cache is safe for concurrent use.  A nil *Cache, or one whose database
// could not be opened, hashes every file directly.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if needed) the checksum database at dbPath.
func Open(dbPath string) (*Cache, error) {
	if dbPath != memoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create directory for the md5 cache")
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open the md5 cache")
	}
	// One connection: an in-memory database is private to its connection
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping the md5 cache")
	}
	query := `
	CREATE TABLE IF NOT EXISTS md5_cache (
		path TEXT PRIMARY KEY NOT NULL,
		size INTEGER NOT NULL,
		mtime INTEGER NOT NULL,
		md5 TEXT NOT NULL
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create the md5 cache table")
	}
	log.Debugf("MD5 cache opened at %s", dbPath)
	return &Cache{db: db}, nil
}

// New opens the database at dbPath, falling back to direct hashing (and a
// warning) if it cannot be opened.
func New(dbPath string) *Cache {
	if dbPath == "" {
		return &Cache{}
	}
	cache, err := Open(dbPath)
	if err != nil {
		log.Warningf("MD5 cache unavailable, checksums will not be remembered: %v", err)
		return &Cache{}
	}
	return cache
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Compute returns the hex MD5 of the file at filePath.
func (c *Cache) Compute(ctx context.Context, filePath string) (string, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve %s", filePath)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat %s", filePath)
	}
	size, mtime := info.Size(), info.ModTime().UnixNano()

	if c != nil && c.db != nil {
		var sum string
		row := c.db.QueryRowContext(ctx, `SELECT md5 FROM md5_cache WHERE path = ? AND size = ? AND mtime = ?`, abs, size, mtime)
		switch err := row.Scan(&sum); {
		case err == nil:
			return sum, nil
		case errors.Is(err, sql.ErrNoRows):
		default:
			log.Debugf("MD5 cache lookup for %s failed: %v", abs, err)
		}
	}

	sum, err := HashFile(ctx, abs)
	if err != nil {
		return "", err
	}
	if c != nil && c.db != nil {
		_, err := c.db.ExecContext(ctx,
			`INSERT INTO md5_cache (path, size, mtime, md5) VALUES (?, ?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET size = excluded.size, mtime = excluded.mtime, md5 = excluded.md5`,
			abs, size, mtime, sum)
		if err != nil {
			log.Debugf("Failed to remember the MD5 of %s: %v", abs, err)
		}
	}
	return sum, nil
}

// Forget drops the remembered checksum of a file.
func (c *Cache) Forget(ctx context.Context, filePath string) error {
	if c == nil || c.db == nil {
		return nil
	}
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", filePath)
	}
	_, err = c.db.ExecContext(ctx, `DELETE FROM md5_cache WHERE path = ?`, abs)
	return errors.Wrap(err, "failed to update the md5 cache")
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// HashFile streams the file through MD5.
func HashFile(ctx context.Context, filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s", filePath)
	}
	defer file.Close()
	hash := md5.New()
	if _, err := io.Copy(hash, ctxReader{ctx: ctx, r: file}); err != nil {
		return "", errors.Wrapf(err, "failed to read %s", filePath)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
