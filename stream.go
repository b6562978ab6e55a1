package wiidisc

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
)

// A CryptStream is a byte-addressable view of a partition's encrypted
// data region. It keeps one decrypted group resident; in write mode a
// modified group is rehashed, re-encrypted and written back when the
// cursor leaves it or on Flush, producing one H3 table entry per group.
type CryptStream struct {
	r      io.ReadSeeker
	w      io.Writer // nil in read-only mode
	cipher cipher.Block
	// dataOffset locates group 0 within the underlying stream
	dataOffset int64
	// maxGroup caps addressable groups, -1 when unbounded
	maxGroup int64
	h3       []byte
	// group is the resident group, -1 when the cache is empty
	group int64
	cache []byte
	dirty bool
	pos   int64
	// filled is the number of groups known to exist in the underlying
	// stream; writes beyond them skip the read-modify-write cycle
	filled int64
}

// NewCryptReader returns a read-only CryptStream over r. The key is the
// decrypted title key; maxGroup bounds the readable region.
func NewCryptReader(r io.ReadSeeker, dataOffset int64, key [keySize]byte, maxGroup int64) (*CryptStream, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return &CryptStream{
		r:          r,
		cipher:     block,
		dataOffset: dataOffset,
		maxGroup:   maxGroup,
		group:      -1,
		cache:      make([]byte, GroupSize),
	}, nil
}

// NewCryptWriter returns a read-write CryptStream over rw. maxGroup may
// be negative when the region is unbounded; filledGroups tells the
// stream how many groups already hold data, zero when starting from
// scratch.
func NewCryptWriter(rw io.ReadWriteSeeker, dataOffset int64, key [keySize]byte, maxGroup, filledGroups int64) (*CryptStream, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return &CryptStream{
		r:          rw,
		w:          rw,
		cipher:     block,
		dataOffset: dataOffset,
		maxGroup:   maxGroup,
		h3:         make([]byte, h3Size),
		group:      -1,
		cache:      make([]byte, GroupSize),
		filled:     filledGroups,
	}, nil
}

// maxSize returns the highest addressable logical offset, or -1 when
// unbounded.
func (s *CryptStream) maxSize() int64 {
	if s.maxGroup < 0 {
		return -1
	}
	return s.maxGroup * GroupDataSize
}

// writeBack rehashes and re-encrypts the resident group, records its H3
// entry and writes the ciphertext to the underlying stream. The cache
// holds ciphertext afterwards, so the resident group is forgotten.
func (s *CryptStream) writeBack() error {
	if s.group < 0 || !s.dirty {
		return nil
	}
	entry := hashEncryptGroup(s.cache, s.cipher)
	if s.h3 != nil && int(20*(s.group+1)) <= len(s.h3) {
		copy(s.h3[20*s.group:], entry[:])
	}
	if _, err := s.r.Seek(s.dataOffset+s.group*GroupSize, io.SeekStart); err != nil {
		return err
	}
	if _, err := s.w.Write(s.cache); err != nil {
		return err
	}
	if s.group+1 > s.filled {
		s.filled = s.group + 1
	}
	s.dirty = false
	s.group = -1
	return nil
}

// loadGroup fills the cache with the given group and decrypts every
// block payload. A dirty resident group is written back first so no
// modification is silently discarded.
func (s *CryptStream) loadGroup(group int64) error {
	if err := s.writeBack(); err != nil {
		return err
	}
	s.group = -1
	if _, err := s.r.Seek(s.dataOffset+group*GroupSize, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(s.r, s.cache); err != nil {
		return err
	}
	decryptGroupData(s.cache, s.cipher)
	s.group = group
	return nil
}

// blockData returns the decrypted payload of the given block, loading
// its group if necessary.
func (s *CryptStream) blockData(group, block int64) ([]byte, error) {
	if s.group != group {
		if err := s.loadGroup(group); err != nil {
			return nil, err
		}
	}
	blk := s.cache[block*BlockSize:][:BlockSize]
	return blk[blockDataOffset:], nil
}

// Read copies decrypted bytes at the current position, stopping at the
// region bound and at the next group boundary; callers loop.
func (s *CryptStream) Read(p []byte) (int, error) {
	max := s.maxSize()
	group := s.pos / GroupDataSize
	block := (s.pos % GroupDataSize) / BlockDataSize
	offset := s.pos % BlockDataSize
	read := 0
	for len(p) > 0 {
		if max >= 0 && s.pos >= max {
			break
		}
		n := BlockDataSize - offset
		if int64(len(p)) < n {
			n = int64(len(p))
		}
		data, err := s.blockData(group, block)
		if err != nil {
			return read, err
		}
		copy(p[:n], data[offset:])
		p = p[n:]
		s.pos += n
		read += int(n)
		offset = 0
		if block++; block == blocksPerGroup {
			// at most one group per call
			break
		}
	}
	if read == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return read, nil
}

// ReadAt fills p with decrypted bytes from the given logical offset
// without disturbing the stream position. In write mode a dirty group
// is flushed before its ciphertext is reloaded, so read-back always
// observes the latest writes.
func (s *CryptStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("wiidisc: invalid offset")
	}
	max := s.maxSize()
	group := off / GroupDataSize
	block := (off % GroupDataSize) / BlockDataSize
	offset := off % BlockDataSize
	read := 0
	for read < len(p) {
		if max >= 0 && off >= max {
			return read, io.EOF
		}
		n := BlockDataSize - offset
		if rest := int64(len(p) - read); rest < n {
			n = rest
		}
		data, err := s.blockData(group, block)
		if err != nil {
			return read, err
		}
		copy(p[read:read+int(n)], data[offset:])
		read += int(n)
		off += n
		offset = 0
		if block++; block == blocksPerGroup {
			block = 0
			group++
		}
	}
	return read, nil
}

// Write copies p into the decrypted cache at the current position. A
// group is pre-loaded from the underlying stream only when some of its
// existing bytes must survive: a write covering a whole group from its
// start, or one targeting a group past the end of existing data, skips
// the load.
func (s *CryptStream) Write(p []byte) (int, error) {
	if s.w == nil {
		return 0, errUnsupported
	}
	group := s.pos / GroupDataSize
	block := (s.pos % GroupDataSize) / BlockDataSize
	offset := blockDataOffset + s.pos%BlockDataSize
	written := 0
	for len(p) > 0 {
		if s.maxGroup >= 0 && group >= s.maxGroup {
			s.pos += int64(written)
			return written, io.ErrShortWrite
		}
		if s.group != group {
			if err := s.enterGroup(group, block, offset, len(p)); err != nil {
				s.pos += int64(written)
				return written, err
			}
		}
		s.dirty = true
		n := int64(BlockSize) - offset
		if int64(len(p)) < n {
			n = int64(len(p))
		}
		copy(s.cache[block*BlockSize+offset:], p[:n])
		p = p[n:]
		written += int(n)
		if block++; block == blocksPerGroup {
			block = 0
			group++
		}
		offset = blockDataOffset
	}
	s.pos += int64(written)
	return written, nil
}

// enterGroup makes group resident for writing. block and offset locate
// the first byte about to be written, remaining is the write size.
func (s *CryptStream) enterGroup(group, block, offset int64, remaining int) error {
	if err := s.writeBack(); err != nil {
		return err
	}
	fullOverwrite := block == 0 && offset == blockDataOffset && int64(remaining) >= GroupDataSize
	switch {
	case fullOverwrite:
		// every payload byte is about to be replaced
	case group < s.filled:
		if err := s.loadGroup(group); err != nil {
			return err
		}
	default:
		// brand new group, nothing to preserve
		zero(s.cache)
	}
	s.group = group
	return nil
}

// Seek moves the logical cursor; it never touches the underlying
// stream. Seeking from the end is not supported because the region
// length is not always known.
func (s *CryptStream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	default:
		return 0, errors.New("wiidisc: invalid whence")
	case io.SeekStart:
		break
	case io.SeekCurrent:
		offset += s.pos
	case io.SeekEnd:
		return 0, errUnsupported
	}
	if offset < 0 {
		return 0, errors.New("wiidisc: invalid offset")
	}
	s.pos = offset
	return s.pos, nil
}

// Flush writes back the resident group if it is dirty and empties the
// cache.
func (s *CryptStream) Flush() error {
	if s.w == nil {
		return errUnsupported
	}
	return s.writeBack()
}

// TakeH3 transfers ownership of the populated H3 table to the caller.
// It can be taken once, after the final Flush.
func (s *CryptStream) TakeH3() ([]byte, error) {
	if s.h3 == nil {
		return nil, fmt.Errorf("wiidisc: no H3 table")
	}
	h3 := s.h3
	s.h3 = nil
	return h3, nil
}
