package domain

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength = 254

	// 管理员密码长度限制
	MinPasswordLength = 8
	MaxPasswordLength = 128

	// 与数据库列宽一致
	MaxRegionLength   = 8
	MaxLocalityLength = 128
	MaxCategoryLength = 64
	MaxNameLength     = 255
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// BrazilianStates 巴西 27 个联邦单位代码
var BrazilianStates = []string{
	"AC", "AL", "AP", "AM", "BA", "CE", "DF", "ES", "GO",
	"MA", "MT", "MS", "MG", "PA", "PB", "PR", "PE", "PI",
	"RJ", "RN", "RS", "RO", "RR", "SC", "SP", "SE", "TO",
}

// DefaultCategories 默认的邮件分类
var DefaultCategories = []string{
	"Trabalho", "Pessoal", "Financeiro", "Suporte", "Marketing", "Compras", "Outros",
}

// ClassificationRules 分类校验规则
type ClassificationRules struct {
	StrictRegions bool     // 仅接受巴西 UF 代码
	Categories    []string // 为空时不限制分类
}

// IsBrazilianState 判断是否为合法的 UF 代码（不区分大小写）
func IsBrazilianState(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, uf := range BrazilianStates {
		if uf == code {
			return true
		}
	}
	return false
}

// ValidateClassification 校验并规范化分类参数
//
// 地区与地点必填（去除空白后非空），地区统一转为大写。
// 分类可选，给出时必须属于规则中的分类列表，并按列表中的写法返回。
//
// 返回值:
//   - Classification: 规范化后的分类
//   - error: 校验失败时返回包装了 ErrValidation 的错误
func ValidateClassification(c Classification, rules ClassificationRules) (Classification, error) {
	region := strings.ToUpper(strings.TrimSpace(c.Region))
	locality := strings.TrimSpace(c.Locality)

	if region == "" {
		return c, fmt.Errorf("%w: estado is required", ErrValidation)
	}
	if locality == "" {
		return c, fmt.Errorf("%w: municipio is required", ErrValidation)
	}
	if err := ValidateLength("estado", region, MaxRegionLength); err != nil {
		return c, err
	}
	if err := ValidateLength("municipio", locality, MaxLocalityLength); err != nil {
		return c, err
	}
	if rules.StrictRegions && !IsBrazilianState(region) {
		return c, fmt.Errorf("%w: unknown estado %q", ErrValidation, region)
	}

	out := Classification{Region: region, Locality: locality}

	if c.Category != nil {
		category := strings.TrimSpace(*c.Category)
		if category != "" {
			if err := ValidateLength("categoria", category, MaxCategoryLength); err != nil {
				return c, err
			}
			if len(rules.Categories) > 0 {
				matched := ""
				for _, known := range rules.Categories {
					if strings.EqualFold(known, category) {
						matched = known
						break
					}
				}
				if matched == "" {
					return c, fmt.Errorf("%w: unknown categoria %q", ErrValidation, category)
				}
				category = matched
			}
			out.Category = &category
		}
	}

	return out, nil
}

// ValidateLength 按字符数检查字段长度
func ValidateLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return fmt.Errorf("%w: %s too long (max %d chars)", ErrValidation, field, max)
	}
	return nil
}

// ValidateEmail 简单验证邮箱地址格式
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > MaxEmailLength {
		return false
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return false
	}
	return emailRegex.MatchString(email)
}

// ValidatePassword 验证管理员密码长度
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password too short (min %d chars)", ErrValidation, MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: password too long (max %d chars)", ErrValidation, MaxPasswordLength)
	}
	return nil
}
