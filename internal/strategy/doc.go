// Package strategy classifies intercepted requests into one of four cache
// strategies using static host and path tables. Classification is a pure
// function of the request line: it never looks at response content.
package strategy
