package main

import "strings"

// splitStatements 分割SQL语句（按分号分割，忽略字符串中的分号）
//
// 只包含注释的片段会被丢弃，语句开头的注释行会被去掉。
func splitStatements(sql string) []string {
	var statements []string
	var current strings.Builder
	var inString bool
	var stringChar rune

	flush := func() {
		if stmt := stripLeadingComments(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, r := range sql {
		switch {
		case r == '\'' || r == '"' || r == '`':
			if !inString {
				inString = true
				stringChar = r
			} else if r == stringChar {
				inString = false
			}
			current.WriteRune(r)
		case r == ';' && !inString:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return statements
}

func stripLeadingComments(stmt string) string {
	lines := strings.Split(strings.TrimSpace(stmt), "\n")
	for len(lines) > 0 {
		line := strings.TrimSpace(lines[0])
		if line != "" && !strings.HasPrefix(line, "--") {
			break
		}
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
