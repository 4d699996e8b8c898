// Package mailaddr 将原始邮件地址头解析为 (地址, 显示名)。
package mailaddr

import (
	"mime"
	"regexp"
	"strings"
	"unicode"

	"github.com/emersion/go-message/charset"
)

var (
	// "Name <address>" 形式，尖括号内不允许空白
	angleAddrRegex = regexp.MustCompile(`^(.*?)<\s*([^<>\s]+)\s*>`)

	// 裸地址，可出现在字符串任意位置
	bareAddrRegex = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}
)

// Identity 规范化后的身份，Name 为空表示没有显示名
type Identity struct {
	Address string
	Name    string
}

// NamePtr 返回显示名指针，没有显示名时返回 nil
func (id Identity) NamePtr() *string {
	if id.Name == "" {
		return nil
	}
	name := id.Name
	return &name
}

// Normalizer 地址规范化器
//
// 对任意输入都返回结果，不会失败。
type Normalizer struct {
	autoDisplayName bool
}

// NewNormalizer 创建地址规范化器
//
// 参数:
//   - autoDisplayName: 为裸地址根据本地部分生成显示名
func NewNormalizer(autoDisplayName bool) *Normalizer {
	return &Normalizer{autoDisplayName: autoDisplayName}
}

// Normalize 按以下优先级解析原始地址头，首个匹配生效：
//  1. "Name <address>"：显示名去除首尾引号和空白，去除后为空则视为没有显示名
//  2. 字符串中任意位置的裸地址
//  3. 整个输入去除首尾空白后作为地址，没有显示名
func (n *Normalizer) Normalize(raw string) Identity {
	decoded := decodeHeader(raw)

	if m := angleAddrRegex.FindStringSubmatch(decoded); m != nil {
		return Identity{
			Address: m[2],
			Name:    cleanDisplayName(m[1]),
		}
	}

	if addr := bareAddrRegex.FindString(decoded); addr != "" {
		id := Identity{Address: addr}
		if n.autoDisplayName {
			id.Name = DisplayNameFromAddress(addr)
		}
		return id
	}

	return Identity{Address: strings.TrimSpace(decoded)}
}

// DisplayNameFromAddress 由本地部分生成显示名
//
// "ana.silva@x.com" -> "Ana Silva"，分隔符 . _ - + 视为空格。
func DisplayNameFromAddress(addr string) string {
	local := addr
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		local = addr[:at]
	}

	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func cleanDisplayName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Trim(name, `"'`)
	return strings.TrimSpace(name)
}

// decodeHeader 解码 RFC 2047 编码字，失败时原样返回
func decodeHeader(raw string) string {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}
