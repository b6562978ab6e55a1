package wiidisc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// A Certificate is one entry of a partition's certificate chain. The
// signature and key lengths depend on the declared algorithms.
type Certificate struct {
	SigType SigType
	Sig     []byte
	Issuer  [0x40]byte
	KeyType KeyType
	Subject [64]byte
	Key     []byte
	Modulus uint32
	PubExp  uint32
}

func sigLength(t SigType) (int, error) {
	switch t {
	case SigRsa4096:
		return 512, nil
	case SigRsa2048:
		return 256, nil
	case SigEllipticCurve:
		return 64, nil
	}
	return 0, fmt.Errorf("wiidisc: invalid signature type %#x", uint32(t))
}

func keyLength(t KeyType) (int, error) {
	switch t {
	case KeyRsa4096:
		return 512, nil
	case KeyRsa2048:
		return 256, nil
	}
	return 0, fmt.Errorf("wiidisc: invalid key type %#x", uint32(t))
}

// ReadCertificate reads a single certificate from r.
func ReadCertificate(r io.Reader) (*Certificate, error) {
	c := new(Certificate)
	if err := binary.Read(r, binary.BigEndian, &c.SigType); err != nil {
		return nil, err
	}
	n, err := sigLength(c.SigType)
	if err != nil {
		return nil, err
	}
	c.Sig = make([]byte, n)
	if _, err = io.ReadFull(r, c.Sig); err != nil {
		return nil, err
	}
	var pad [60]byte
	if _, err = io.ReadFull(r, pad[:]); err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(r, c.Issuer[:]); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.BigEndian, &c.KeyType); err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(r, c.Subject[:]); err != nil {
		return nil, err
	}
	if n, err = keyLength(c.KeyType); err != nil {
		return nil, err
	}
	c.Key = make([]byte, n)
	if _, err = io.ReadFull(r, c.Key); err != nil {
		return nil, err
	}
	var tail struct {
		Modulus uint32
		PubExp  uint32
		_       [52]byte
	}
	if err = binary.Read(r, binary.BigEndian, &tail); err != nil {
		return nil, err
	}
	c.Modulus = tail.Modulus
	c.PubExp = tail.PubExp
	return c, nil
}

// WriteTo writes the certificate in its on-disc form.
func (c *Certificate) WriteTo(w io.Writer) (int64, error) {
	sn, err := sigLength(c.SigType)
	if err != nil {
		return 0, err
	}
	if len(c.Sig) != sn {
		return 0, fmt.Errorf("wiidisc: signature length %d does not match type %#x", len(c.Sig), uint32(c.SigType))
	}
	kn, err := keyLength(c.KeyType)
	if err != nil {
		return 0, err
	}
	if len(c.Key) != kn {
		return 0, fmt.Errorf("wiidisc: key length %d does not match type %#x", len(c.Key), uint32(c.KeyType))
	}
	cw := &countingWriter{w: w}
	if err := binary.Write(cw, binary.BigEndian, c.SigType); err != nil {
		return cw.n, err
	}
	if _, err := cw.Write(c.Sig); err != nil {
		return cw.n, err
	}
	var pad [60]byte
	if _, err := cw.Write(pad[:]); err != nil {
		return cw.n, err
	}
	if _, err := cw.Write(c.Issuer[:]); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.BigEndian, c.KeyType); err != nil {
		return cw.n, err
	}
	if _, err := cw.Write(c.Subject[:]); err != nil {
		return cw.n, err
	}
	if _, err := cw.Write(c.Key); err != nil {
		return cw.n, err
	}
	tail := struct {
		Modulus uint32
		PubExp  uint32
		_       [52]byte
	}{Modulus: c.Modulus, PubExp: c.PubExp}
	if err := binary.Write(cw, binary.BigEndian, &tail); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// readCertificateChain reads the conventional three-entry chain.
func readCertificateChain(r io.Reader) ([3]Certificate, error) {
	var chain [3]Certificate
	for i := range chain {
		c, err := ReadCertificate(r)
		if err != nil {
			return chain, err
		}
		chain[i] = *c
	}
	return chain, nil
}

func writeCertificateChain(w io.Writer, chain [3]Certificate) (int64, error) {
	var written int64
	for i := range chain {
		n, err := chain[i].WriteTo(w)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
