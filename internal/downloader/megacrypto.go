// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"
)

// Mega chunk schedule: 0x20000, growing by 0x20000 per chunk up to 0x100000,
// then fixed. The CBC-MAC is computed per chunk on this grid.
const (
	megaChunkStep = 0x20000
	megaChunkMax  = 0x100000
)

func megaChunkSizes(total int64) []int64 {
	var sizes []int64
	var pos, size int64
	for pos < total {
		if size < megaChunkMax {
			size += megaChunkStep
		}
		remaining := total - pos
		if size > remaining {
			sizes = append(sizes, remaining)
			break
		}
		sizes = append(sizes, size)
		pos += size
	}
	return sizes
}

// megaKey is the unpacked 256-bit node key of a file share.
type megaKey struct {
	aesKey  []byte // 16 bytes
	iv      []byte // 16 bytes, words [4,5,0,0]
	metaMAC []byte // 8 bytes, words [6,7]
}

var (
	megaNewLinkRe = regexp.MustCompile(`/file/([\w-]+)#([\w-]+)`)
	megaOldLinkRe = regexp.MustCompile(`#!([\w-]+)!([\w-]+)`)
)

// parseMegaLink accepts both the /file/<id>#<key> and the legacy
// #!<id>!<key> share forms.
func parseMegaLink(link string) (fileID, keyB64 string, err error) {
	if m := megaNewLinkRe.FindStringSubmatch(link); m != nil {
		return m[1], m[2], nil
	}
	if m := megaOldLinkRe.FindStringSubmatch(link); m != nil {
		return m[1], m[2], nil
	}
	return "", "", fmt.Errorf("unrecognized mega link %q", link)
}

// parseMegaKey unpacks the base64 node key into the AES key, CTR IV and
// meta-MAC per the Mega key layout.
func parseMegaKey(keyB64 string) (*megaKey, error) {
	raw, err := base64urlDecode(keyB64)
	if err != nil {
		return nil, fmt.Errorf("decode mega key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("mega file key must be 32 bytes, got %d", len(raw))
	}

	words := make([]uint32, 8)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(raw[i*4:])
	}

	key := &megaKey{
		aesKey:  make([]byte, 16),
		iv:      make([]byte, 16),
		metaMAC: make([]byte, 8),
	}
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint32(key.aesKey[i*4:], words[i]^words[i+4])
	}
	binary.BigEndian.PutUint32(key.iv[0:], words[4])
	binary.BigEndian.PutUint32(key.iv[4:], words[5])
	binary.BigEndian.PutUint32(key.metaMAC[0:], words[6])
	binary.BigEndian.PutUint32(key.metaMAC[4:], words[7])
	return key, nil
}

// megaDecryptor decrypts the CTR stream and accumulates the chunked CBC-MAC.
type megaDecryptor struct {
	ctr     cipher.Stream
	block   cipher.Block
	chunkIV []byte
	mac     []byte // running file MAC, one CBC pass per chunk MAC
	metaMAC []byte
}

func newMegaDecryptor(key *megaKey) (*megaDecryptor, error) {
	block, err := aes.NewCipher(key.aesKey)
	if err != nil {
		return nil, err
	}
	chunkIV := make([]byte, 16)
	copy(chunkIV[0:8], key.iv[0:8])
	copy(chunkIV[8:16], key.iv[0:8])
	return &megaDecryptor{
		ctr:     cipher.NewCTR(block, key.iv),
		block:   block,
		chunkIV: chunkIV,
		mac:     make([]byte, 16),
		metaMAC: key.metaMAC,
	}, nil
}

// decryptChunk decrypts one schedule chunk in place and folds its CBC-MAC
// into the running file MAC.
func (d *megaDecryptor) decryptChunk(chunk []byte) {
	d.ctr.XORKeyStream(chunk, chunk)

	// CBC-MAC over the plaintext with the chunk IV; the final block is
	// the chunk MAC.
	chunkMAC := make([]byte, 16)
	copy(chunkMAC, d.chunkIV)
	scratch := make([]byte, 16)
	for i := 0; i < len(chunk); i += 16 {
		end := i + 16
		if end > len(chunk) {
			end = len(chunk)
		}
		// A short final block is zero padded, which the xor form gives
		// for free.
		copy(scratch, chunkMAC)
		for j, b := range chunk[i:end] {
			scratch[j] ^= b
		}
		d.block.Encrypt(chunkMAC, scratch)
	}

	// Fold into the file MAC (CBC with zero IV across chunk MACs).
	for j := range d.mac {
		d.mac[j] ^= chunkMAC[j]
	}
	d.block.Encrypt(d.mac, d.mac)
}

// verify condenses the file MAC and compares it with the key's meta-MAC.
func (d *megaDecryptor) verify() bool {
	condensed := make([]byte, 8)
	for i := 0; i < 4; i++ {
		condensed[i] = d.mac[i] ^ d.mac[i+4]
		condensed[i+4] = d.mac[i+8] ^ d.mac[i+12]
	}
	return string(condensed) == string(d.metaMAC)
}

func aesCBCDecryptZeroIV(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext not block aligned")
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, make([]byte, 16)).CryptBlocks(out, data)
	return out, nil
}

// megaFolderLink reports whether a link addresses a folder share.
func megaFolderLink(link string) bool {
	return strings.Contains(link, "/folder/") || strings.Contains(link, "#F!")
}
