/*
 * Copyright 2022 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package rollup

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/CovenantSQL/DocChain/crypto/hash"
)

const (
	segmentFileExt = ".seg"
	tmpFileExt     = ".tmp"
)

// SegmentStore is the archive backend of the rollup engine. Locators are
// content addresses, so writing the same segment twice is a no-op that
// returns the same locator.
type SegmentStore interface {
	// Write persists one segment and returns its locator.
	Write(ctx context.Context, segment []byte) (locator string, err error)
	// Read loads the segment behind a locator.
	Read(ctx context.Context, locator string) (segment []byte, err error)
	// List returns the locators of all stored segments, in no particular
	// order.
	List(ctx context.Context) (locators []string, err error)
}

// FileSegmentStore archives segments as flat files under one directory.
type FileSegmentStore struct {
	dir string
}

// NewFileSegmentStore opens a file backed segment store at dir, creating the
// directory if needed.
func NewFileSegmentStore(dir string) (s *FileSegmentStore, err error) {
	if err = os.MkdirAll(dir, 0755); err != nil {
		err = errors.Wrapf(err, "create segment dir %s failed", dir)
		return
	}
	s = &FileSegmentStore{dir: dir}
	return
}

// Write implements SegmentStore.Write. The segment lands under a temporary
// name first and is renamed into place, so readers never observe a partial
// file.
func (s *FileSegmentStore) Write(ctx context.Context, segment []byte) (locator string, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	locator = hash.THashH(segment).String()
	target := filepath.Join(s.dir, locator+segmentFileExt)
	if _, serr := os.Stat(target); serr == nil {
		return
	}
	tmp := filepath.Join(s.dir, uuid.Must(uuid.NewV4()).String()+tmpFileExt)
	if err = ioutil.WriteFile(tmp, segment, 0644); err != nil {
		err = errors.Wrapf(err, "write segment %s failed", locator)
		return
	}
	if err = os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		err = errors.Wrapf(err, "publish segment %s failed", locator)
		return
	}
	return
}

// Read implements SegmentStore.Read. The content is verified against the
// locator before it is returned.
func (s *FileSegmentStore) Read(ctx context.Context, locator string) (segment []byte, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	if segment, err = ioutil.ReadFile(filepath.Join(s.dir, locator+segmentFileExt)); err != nil {
		if os.IsNotExist(err) {
			err = errors.Wrapf(ErrSegmentNotFound, "locator %s", locator)
		} else {
			err = errors.Wrapf(err, "read segment %s failed", locator)
		}
		segment = nil
		return
	}
	if actual := hash.THashH(segment).String(); actual != locator {
		segment = nil
		err = errors.Wrapf(ErrBadSegment, "segment %s content hash %s", locator, actual)
	}
	return
}

// List implements SegmentStore.List.
func (s *FileSegmentStore) List(ctx context.Context) (locators []string, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	var matches []string
	if matches, err = filepath.Glob(filepath.Join(s.dir, "*"+segmentFileExt)); err != nil {
		err = errors.Wrap(err, "list segments failed")
		return
	}
	for _, m := range matches {
		locators = append(locators, strings.TrimSuffix(filepath.Base(m), segmentFileExt))
	}
	return
}
