// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"

	"github.com/Casvt/Kapowarr-sub000/internal/domain"
	"github.com/Casvt/Kapowarr-sub000/internal/models"
)

// megaSessionTTL is how long an authenticated session id is reused.
const megaSessionTTL = time.Hour

// MegaAPI talks to the Mega command endpoint. Public file downloads work
// anonymously; a stored credential upgrades requests to the account session.
type MegaAPI struct {
	BaseURL string

	http        *http.Client
	credentials *models.CredentialStore
	seq         atomic.Int64

	mu        sync.Mutex
	sessionID string
	sessionAt time.Time
}

func NewMegaAPI(credentials *models.CredentialStore) *MegaAPI {
	return &MegaAPI{
		BaseURL:     "https://g.api.mega.co.nz",
		http:        &http.Client{Timeout: 30 * time.Second},
		credentials: credentials,
	}
}

// command posts one command to the /cs endpoint and decodes the first reply.
func (m *MegaAPI) command(ctx context.Context, sid string, payload any, out any) error {
	body, err := json.Marshal([]any{payload})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/cs?id=%d", m.BaseURL, m.seq.Add(1))
	if sid != "" {
		url += "&sid=" + sid
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := m.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var raw json.RawMessage
			if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
				return err
			}
			// An error is a bare negative number instead of a reply
			// array.
			var errCode int
			if json.Unmarshal(raw, &errCode) == nil && errCode < 0 {
				return retry.Unrecoverable(fmt.Errorf("mega api error %d", errCode))
			}
			var replies []json.RawMessage
			if err := json.Unmarshal(raw, &replies); err != nil || len(replies) == 0 {
				return fmt.Errorf("malformed mega reply")
			}
			if errCode := 0; json.Unmarshal(replies[0], &errCode) == nil && errCode < 0 {
				return retry.Unrecoverable(fmt.Errorf("mega api error %d", errCode))
			}
			return json.Unmarshal(replies[0], out)
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

type megaFileReply struct {
	URL        string `json:"g"`
	Size       int64  `json:"s"`
	Attributes string `json:"at"`
}

// FileInfo is the resolved download location of a public Mega file.
type FileInfo struct {
	URL  string
	Size int64
	Name string
}

// FetchFile resolves a public file id to its temporary download URL and
// decrypted attributes.
func (m *MegaAPI) FetchFile(ctx context.Context, fileID string, key *megaKey) (*FileInfo, error) {
	sid := m.session(ctx)

	var reply megaFileReply
	err := m.command(ctx, sid, map[string]any{"a": "g", "g": 1, "p": fileID}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.URL == "" {
		return nil, fmt.Errorf("mega file %s has no download url", fileID)
	}

	info := &FileInfo{URL: reply.URL, Size: reply.Size}
	if name, err := decryptAttributes(reply.Attributes, key.aesKey); err == nil {
		info.Name = name
	} else {
		log.Debug().Err(err).Msg("Could not decrypt mega attributes")
	}
	return info, nil
}

// session returns a cached account session id, logging in when a credential
// exists and the cache expired. Anonymous access returns the empty string.
func (m *MegaAPI) session(ctx context.Context) string {
	if m.credentials == nil {
		return ""
	}
	cred, err := m.credentials.ForSource(ctx, domain.SourceMega)
	if err != nil || cred == nil || cred.Email == "" {
		return ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionID != "" && time.Since(m.sessionAt) < megaSessionTTL {
		return m.sessionID
	}

	sid, err := m.login(ctx, cred.Email, cred.Password)
	if err != nil {
		log.Warn().Err(err).Msg("Mega login failed, continuing anonymously")
		return ""
	}
	m.sessionID = sid
	m.sessionAt = time.Now()
	return sid
}

type megaPrelogin struct {
	Version int    `json:"v"`
	Salt    string `json:"s"`
}

type megaLoginReply struct {
	Key        string `json:"k"`
	PrivateKey string `json:"privk"`
	CSID       string `json:"csid"`
}

// login runs the prelogin/login handshake and derives the session id from
// the RSA-encrypted csid.
func (m *MegaAPI) login(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(email)

	var pre megaPrelogin
	if err := m.command(ctx, "", map[string]any{"a": "us0", "user": email}, &pre); err != nil {
		return "", fmt.Errorf("mega prelogin: %w", err)
	}

	var passKey, authKey []byte
	switch pre.Version {
	case 2:
		salt, err := base64urlDecode(pre.Salt)
		if err != nil {
			return "", fmt.Errorf("decode prelogin salt: %w", err)
		}
		derived := pbkdf2.Key([]byte(password), salt, 100000, 32, sha512.New)
		passKey, authKey = derived[:16], derived[16:]
	default:
		passKey = deriveKeyV1([]byte(password))
		authKey = nil
	}

	payload := map[string]any{"a": "us", "user": email}
	if authKey != nil {
		payload["uh"] = base64urlEncode(authKey)
	} else {
		payload["uh"] = base64urlEncode(stringHashV1([]byte(email), passKey))
	}

	var reply megaLoginReply
	if err := m.command(ctx, "", payload, &reply); err != nil {
		return "", fmt.Errorf("mega login: %w", err)
	}

	encMaster, err := base64urlDecode(reply.Key)
	if err != nil {
		return "", err
	}
	masterKey, err := aesECBDecrypt(passKey, encMaster)
	if err != nil {
		return "", err
	}

	return decryptSessionID(masterKey, reply.PrivateKey, reply.CSID)
}

// decryptSessionID decrypts the RSA private key with the master key and uses
// it to recover the session id from csid.
func decryptSessionID(masterKey []byte, privkB64, csidB64 string) (string, error) {
	encPrivk, err := base64urlDecode(privkB64)
	if err != nil {
		return "", err
	}
	privk, err := aesECBDecrypt(masterKey, encPrivk)
	if err != nil {
		return "", err
	}

	// privk holds four MPI integers: p, q, d, u.
	var parts [4]*big.Int
	rest := privk
	for i := range parts {
		parts[i], rest, err = readMPI(rest)
		if err != nil {
			return "", fmt.Errorf("parse rsa key: %w", err)
		}
	}
	p, q, d := parts[0], parts[1], parts[2]
	n := new(big.Int).Mul(p, q)

	csid, err := base64urlDecode(csidB64)
	if err != nil {
		return "", err
	}
	c, _, err := readMPI(csid)
	if err != nil {
		return "", fmt.Errorf("parse csid: %w", err)
	}

	plain := new(big.Int).Exp(c, d, n).Bytes()
	if len(plain) < 43 {
		return "", fmt.Errorf("short session id")
	}
	return base64urlEncode(plain[:43]), nil
}

// readMPI reads one length-prefixed big-endian integer.
func readMPI(data []byte) (*big.Int, []byte, error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("truncated mpi")
	}
	bits := int(binary.BigEndian.Uint16(data[:2]))
	size := (bits + 7) / 8
	if len(data) < 2+size {
		return nil, nil, fmt.Errorf("truncated mpi body")
	}
	return new(big.Int).SetBytes(data[2 : 2+size]), data[2+size:], nil
}

// deriveKeyV1 is the legacy iterated-AES password key derivation.
func deriveKeyV1(password []byte) []byte {
	// Pad to a multiple of 4 32-bit words.
	padded := make([]byte, (len(password)+3)/4*4)
	copy(padded, password)

	key := []byte{
		0x93, 0xc4, 0x67, 0xe3, 0x7d, 0xb0, 0xc7, 0xa4,
		0xd1, 0xbe, 0x3f, 0x81, 0x01, 0x52, 0xcb, 0x56,
	}
	for i := 0; i < 0x10000; i++ {
		for j := 0; j < len(padded); j += 16 {
			block := make([]byte, 16)
			copy(block, padded[j:min(j+16, len(padded))])
			cipherBlock, _ := aes.NewCipher(block)
			cipherBlock.Encrypt(key, key)
		}
	}
	return key
}

// stringHashV1 is the legacy login hash over the lowercase email.
func stringHashV1(email, passKey []byte) []byte {
	hash := make([]byte, 16)
	for i, b := range email {
		hash[i%16] ^= b
	}
	block, _ := aes.NewCipher(passKey)
	for i := 0; i < 0x4000; i++ {
		block.Encrypt(hash, hash)
	}
	return append(append([]byte{}, hash[0:4]...), hash[8:12]...)
}

func aesECBDecrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext not block aligned")
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}
	return out, nil
}

// decryptAttributes decrypts the CBC-encrypted attribute blob; it yields the
// file name.
func decryptAttributes(atB64 string, key []byte) (string, error) {
	data, err := base64urlDecode(atB64)
	if err != nil {
		return "", err
	}
	plain, err := aesCBCDecryptZeroIV(key, data)
	if err != nil {
		return "", err
	}
	if !bytes.HasPrefix(plain, []byte("MEGA")) {
		return "", fmt.Errorf("bad attribute prefix")
	}
	payload := bytes.TrimRight(plain[4:], "\x00")
	var attrs struct {
		Name string `json:"n"`
	}
	if err := json.Unmarshal(payload, &attrs); err != nil {
		return "", err
	}
	return attrs.Name, nil
}

func base64urlDecode(s string) ([]byte, error) {
	s = strings.ReplaceAll(strings.ReplaceAll(s, "-", "+"), "_", "/")
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func base64urlEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
