// Package msgfile reads Outlook .msg files: OLE compound documents whose
// MAPI properties live in "__substg1.0_XXXXYYYY" streams.
package msgfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/kalambet/facre/internal/extract"
)

// ErrNotMSG is returned for input that is not an OLE compound document.
var ErrNotMSG = errors.New("not an Outlook .msg file")

var cfbSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

const (
	substgPrefix   = "__substg1.0_"
	attachPrefix   = "__attach_version1.0_"
	propertiesName = "__properties_version1.0"
	rootEntry      = "Root Entry"
)

// MAPI property ids, as the four hex digits used in stream names.
const (
	propSubject         = "0037"
	propHeaders         = "007D"
	propSenderName      = "0C1A"
	propSenderEmail     = "0C1F"
	propSenderSMTP      = "5D01"
	propBody            = "1000"
	propHTML            = "1013"
	propAttachData      = "3701"
	propAttachFilename  = "3704"
	propAttachLongName  = "3707"
	propAttachMime      = "370E"
	propAttachDisplay   = "3001"
	typeUnicode         = "001F"
	typeString8         = "001E"
	typeBinary          = "0102"
	tagClientSubmitTime = 0x0039
	tagDeliveryTime     = 0x0E06
	ptSysTime           = 0x0040
)

// Attachment is one file attached to the message. Payload is nil and Size is
// zero when the attachment data could not be decoded.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	Payload     []byte
}

// Email is the decoded message.
type Email struct {
	Sender      string
	Subject     string
	Body        string
	Date        time.Time
	Attachments []Attachment
}

// Parser implements the mail parser used by the analysis pipeline.
type Parser struct{}

// Parse decodes data as a .msg file.
func (Parser) Parse(data []byte) (*Email, error) {
	return Parse(data)
}

// Parse decodes data as a .msg file. Malformed input yields an error, never a
// panic.
func Parse(data []byte) (email *Email, err error) {
	if len(data) < len(cfbSignature) || !bytes.Equal(data[:len(cfbSignature)], cfbSignature) {
		return nil, ErrNotMSG
	}
	defer func() {
		if r := recover(); r != nil {
			email, err = nil, fmt.Errorf("corrupt compound document: %v", r)
		}
	}()

	set, err := collect(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return decode(set), nil
}

// streamSet holds the raw property streams of a message, split by scope.
type streamSet struct {
	top         map[string][]byte
	attachments map[string]map[string][]byte
}

func newStreamSet() *streamSet {
	return &streamSet{
		top:         make(map[string][]byte),
		attachments: make(map[string]map[string][]byte),
	}
}

func (s *streamSet) add(scope, name string, data []byte) {
	if scope == "" {
		s.top[name] = data
		return
	}
	m, ok := s.attachments[scope]
	if !ok {
		m = make(map[string][]byte)
		s.attachments[scope] = m
	}
	m[name] = data
}

func collect(r io.ReaderAt) (*streamSet, error) {
	doc, err := mscfb.New(r)
	if err != nil {
		return nil, fmt.Errorf("reading compound document: %w", err)
	}

	set := newStreamSet()
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if entry.FileInfo().IsDir() {
			continue
		}
		if !strings.HasPrefix(entry.Name, substgPrefix) && entry.Name != propertiesName {
			continue
		}
		scope, ok := scopeOf(entry.Path, entry.Name)
		if !ok {
			continue
		}
		data, err := io.ReadAll(entry)
		if err != nil {
			return nil, fmt.Errorf("reading stream %s: %w", entry.Name, err)
		}
		set.add(scope, entry.Name, data)
	}

	if len(set.top) == 0 {
		return nil, errors.New("no message properties found")
	}
	return set, nil
}

// scopeOf returns "" for top-level message streams and the storage name for
// streams directly inside an attachment storage. Anything deeper (recipients,
// embedded messages) is skipped.
func scopeOf(path []string, name string) (string, bool) {
	if n := len(path); n > 0 && path[n-1] == name {
		path = path[:n-1]
	}
	if len(path) > 0 && path[0] == rootEntry {
		path = path[1:]
	}
	switch {
	case len(path) == 0:
		return "", true
	case len(path) == 1 && strings.HasPrefix(path[0], attachPrefix):
		return path[0], true
	}
	return "", false
}

func decode(set *streamSet) *Email {
	email := &Email{
		Subject: stringProp(set.top, propSubject),
		Body:    stringProp(set.top, propBody),
	}

	headers := stringProp(set.top, propHeaders)
	var hdr mail.Header
	if headers != "" {
		if msg, err := mail.ReadMessage(strings.NewReader(strings.TrimRight(headers, "\r\n") + "\r\n\r\n")); err == nil {
			hdr = msg.Header
		}
	}

	if strings.TrimSpace(email.Body) == "" {
		if html := rawProp(set.top, propHTML); len(html) > 0 {
			if text, err := extract.HTMLText(bytes.NewReader(html)); err == nil {
				email.Body = text
			}
		}
	}

	email.Sender = senderOf(set.top, hdr)
	email.Date = dateOf(set.top[propertiesName], hdr)

	scopes := make([]string, 0, len(set.attachments))
	for scope := range set.attachments {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	for i, scope := range scopes {
		email.Attachments = append(email.Attachments, decodeAttachment(set.attachments[scope], i))
	}
	return email
}

func decodeAttachment(streams map[string][]byte, index int) Attachment {
	name := firstNonEmpty(
		stringProp(streams, propAttachLongName),
		stringProp(streams, propAttachFilename),
		stringProp(streams, propAttachDisplay),
	)
	if name == "" {
		name = fmt.Sprintf("attachment_%d", index)
	}

	contentType := stringProp(streams, propAttachMime)
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	att := Attachment{Filename: name, ContentType: contentType}
	if data, ok := streams[substgPrefix+propAttachData+typeBinary]; ok && len(data) > 0 {
		att.Payload = data
		att.Size = len(data)
	}
	return att
}

func senderOf(top map[string][]byte, hdr mail.Header) string {
	name := stringProp(top, propSenderName)
	addr := firstNonEmpty(stringProp(top, propSenderSMTP), stringProp(top, propSenderEmail))
	if strings.HasPrefix(addr, "/O=") || strings.HasPrefix(addr, "/o=") {
		// Exchange distinguished names are not useful as an address.
		addr = ""
	}
	if addr == "" && hdr != nil {
		if from, err := mail.ParseAddress(hdr.Get("From")); err == nil {
			addr = from.Address
			if name == "" {
				name = from.Name
			}
		}
	}
	switch {
	case name != "" && addr != "" && !strings.EqualFold(name, addr):
		return fmt.Sprintf("%s <%s>", name, addr)
	case addr != "":
		return addr
	}
	return name
}

func dateOf(props []byte, hdr mail.Header) time.Time {
	if t, ok := sysTimeProp(props, tagClientSubmitTime); ok {
		return t
	}
	if t, ok := sysTimeProp(props, tagDeliveryTime); ok {
		return t
	}
	if hdr != nil {
		if t, err := hdr.Date(); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// sysTimeProp finds a PT_SYSTIME value in the top-level fixed-length property
// stream: a 32-byte header followed by 16-byte entries of tag, flags, value.
func sysTimeProp(props []byte, id uint16) (time.Time, bool) {
	const header, entry = 32, 16
	for off := header; off+entry <= len(props); off += entry {
		tag := binary.LittleEndian.Uint32(props[off:])
		if uint16(tag>>16) != id || uint16(tag) != ptSysTime {
			continue
		}
		ft := int64(binary.LittleEndian.Uint64(props[off+8:]))
		if ft <= 0 {
			return time.Time{}, false
		}
		return filetime(ft), true
	}
	return time.Time{}, false
}

// filetime converts 100ns intervals since 1601-01-01 UTC.
func filetime(ft int64) time.Time {
	const epochDelta = 116444736000000000
	return time.Unix(0, (ft-epochDelta)*100).UTC()
}

func rawProp(streams map[string][]byte, id string) []byte {
	for _, typ := range []string{typeBinary, typeUnicode, typeString8} {
		if data, ok := streams[substgPrefix+id+typ]; ok {
			return data
		}
	}
	return nil
}

func stringProp(streams map[string][]byte, id string) string {
	if data, ok := streams[substgPrefix+id+typeUnicode]; ok {
		return clean(decodeUTF16(data))
	}
	if data, ok := streams[substgPrefix+id+typeString8]; ok {
		return clean(decodeString8(data))
	}
	return ""
}

func decodeUTF16(data []byte) string {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(data)
	if err != nil {
		return ""
	}
	return string(out)
}

// decodeString8 treats 8-bit strings as UTF-8 when valid and Windows-1252
// otherwise, which covers the common Outlook code page.
func decodeString8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(out)
}

func clean(s string) string {
	return strings.TrimRight(s, "\x00")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
