package library

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/adler32"
	"hash/crc32"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/md4"
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/value"
)

var hashFuncs = []string{"listAlgorithms", "hashValue"}

// algorithms maps a lowercase algorithm name to a constructor.
var algorithms = map[string]func() hash.Hash{
	"md4":        md4.New,
	"md5":        md5.New,
	"sha1":       sha1.New,
	"sha224":     sha256.New224,
	"sha256":     sha256.New,
	"sha384":     sha512.New384,
	"sha512":     sha512.New,
	"sha512/224": sha512.New512_224,
	"sha512/256": sha512.New512_256,
	"sha3-224":   sha3.New224,
	"sha3-256":   sha3.New256,
	"sha3-384":   sha3.New384,
	"sha3-512":   sha3.New512,
	"ripemd160":  ripemd160.New,
	"fnv132":     func() hash.Hash { return fnv.New32() },
	"fnv1a32":    func() hash.Hash { return fnv.New32a() },
	"fnv164":     func() hash.Hash { return fnv.New64() },
	"fnv1a64":    func() hash.Hash { return fnv.New64a() },
	"crc32b":     func() hash.Hash { return crc32.NewIEEE() },
	"crc32c":     func() hash.Hash { return crc32.New(crc32.MakeTable(crc32.Castagnoli)) },
	"adler32":    func() hash.Hash { return adler32.New() },
	"xxh64":      func() hash.Hash { return xxhash.New() },
	"xxh3":       func() hash.Hash { return xxh3.New() },
	"xxh128":     func() hash.Hash { return &xxh128{xxh3.New()} },
}

// xxh128 exposes the 128-bit digest of an xxh3 hasher through hash.Hash.
type xxh128 struct {
	*xxh3.Hasher
}

func (h *xxh128) Size() int { return 16 }

func (h *xxh128) Sum(b []byte) []byte {
	s := h.Sum128()
	b = binary.BigEndian.AppendUint64(b, s.Hi)
	return binary.BigEndian.AppendUint64(b, s.Lo)
}

// Algorithms returns the supported algorithm names in sorted order.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hash is mw.hash.
type Hash struct {
	env Env
}

// Register implements Library.
func (h *Hash) Register(env Env) (map[string]backend.HostFunc, error) {
	h.env = env
	return map[string]backend.HostFunc{
		"listAlgorithms": h.listAlgorithms,
		"hashValue":      h.hashValue,
	}, nil
}

func (h *Hash) listAlgorithms([]any) ([]any, error) {
	names := Algorithms()
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return []any{out}, nil
}

// hashValue(algo, value) returns the lowercase hex digest.
func (h *Hash) hashValue(args []any) ([]any, error) {
	a := value.Args(args)
	algo, err := a.String("hashValue", 1)
	if err != nil {
		return nil, err
	}
	v, err := a.String("hashValue", 2)
	if err != nil {
		return nil, err
	}
	if err := h.env.Limits().CheckString("hashValue", 2, v); err != nil {
		return nil, err
	}
	ctor, ok := algorithms[strings.ToLower(algo)]
	if !ok {
		return nil, &value.ArgumentError{Func: "hashValue", Arg: 1, Msg: fmt.Sprintf("Unknown hashing algorithm: %s", algo)}
	}
	hh := ctor()
	hh.Write([]byte(v))
	return []any{hex.EncodeToString(hh.Sum(nil))}, nil
}
