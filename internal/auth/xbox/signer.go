package xbox

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"time"
)

const (
	// signaturePolicyVersion is the Xbox request signing policy in use.
	signaturePolicyVersion uint32 = 1

	// filetimeEpochDelta is the number of seconds between the Windows
	// FILETIME epoch (1601-01-01) and the Unix epoch.
	filetimeEpochDelta = 11644473600

	// filetimeTicksPerSecond is FILETIME's 100-nanosecond resolution.
	filetimeTicksPerSecond = 10_000_000
)

// windowsFiletime converts t to Windows FILETIME at second resolution.
func windowsFiletime(t time.Time) uint64 {
	return uint64(t.Unix()+filetimeEpochDelta) * filetimeTicksPerSecond
}

// buildSigningPayload assembles the canonical byte sequence covered by the
// request signature. The layout is fixed by the signing policy:
//
//	[policy u32 BE] 0 [filetime u64 BE] 0 "POST" 0 path-and-query 0 "" 0 body 0
//
// The empty segment is the Authorization header, which these requests never
// carry.
func buildSigningPayload(filetime uint64, pathAndQuery string, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(32 + len(pathAndQuery) + len(body))

	_ = binary.Write(&buf, binary.BigEndian, signaturePolicyVersion)
	buf.WriteByte(0)
	_ = binary.Write(&buf, binary.BigEndian, filetime)
	buf.WriteByte(0)
	buf.WriteString("POST")
	buf.WriteByte(0)
	buf.WriteString(pathAndQuery)
	buf.WriteByte(0)
	// Authorization header, always empty here.
	buf.WriteByte(0)
	buf.Write(body)
	buf.WriteByte(0)

	return buf.Bytes()
}

// SignRequest produces the Signature header value for a POST to pathAndQuery
// with the given body at the given FILETIME. The header is the standard
// base64 of policy version, timestamp, and the raw r||s signature.
func (k *DeviceKey) SignRequest(filetime uint64, pathAndQuery string, body []byte) (string, error) {
	payload := buildSigningPayload(filetime, pathAndQuery, body)

	sig, err := k.Sign(payload)
	if err != nil {
		return "", err
	}

	var header bytes.Buffer
	_ = binary.Write(&header, binary.BigEndian, signaturePolicyVersion)
	_ = binary.Write(&header, binary.BigEndian, filetime)
	header.Write(sig)

	return base64.StdEncoding.EncodeToString(header.Bytes()), nil
}
