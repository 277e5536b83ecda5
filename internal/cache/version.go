package cache

import (
	"fmt"
	"strings"
)

const versionInfix = "-cache-v"

// Version 描述一次部署对应的缓存命名空间版本，名称形如 <product>-cache-v<N>。
type Version struct {
	Product string
	Number  int
}

// Name 返回命名空间名称。
func (v Version) Name() string {
	return fmt.Sprintf("%s%s%d", v.Product, versionInfix, v.Number)
}

func (v Version) String() string {
	return v.Name()
}

func validNamespace(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
