package ignore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName 是目录发布时读取的忽略规则文件
const FileName = ".ndnignore"

// 始终生效的规则
var defaultRules = []string{
	".ndn", // manager 的元数据目录
	".git",
	FileName,

	"config.yaml", // 可能含有 S3 密钥
	".env",

	".DS_Store",
	"Thumbs.db",
}

// Matcher 判断目录中的一个相对路径是否应当跳过
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 读取 root 下的 .ndnignore (可以没有)，并合并默认规则
func NewMatcher(root string, extra ...string) (*Matcher, error) {
	rules := append(append([]string(nil), defaultRules...), extra...)

	path := filepath.Join(root, FileName)
	_, err := os.Stat(path)
	switch {
	case err == nil:
		ig, err := gitignore.CompileIgnoreFileAndLines(path, rules...)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", path, err)
		}
		return &Matcher{ignorer: ig}, nil
	case errors.Is(err, os.ErrNotExist):
		return &Matcher{ignorer: gitignore.CompileIgnoreLines(rules...)}, nil
	default:
		return nil, err
	}
}

// Matches 的 path 相对于 root，使用 "/" 或系统分隔符均可
// 目录可以带尾部斜杠
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	path = strings.TrimSuffix(filepath.ToSlash(path), "/")
	if path == "" || path == "." {
		return false
	}
	return m.ignorer.MatchesPath(path)
}
