package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Table 简单表格输出
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable 创建表格
func NewTable(headers []string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		widths:  widths,
	}
}

// AddRow 添加行
func (t *Table) AddRow(row []string) {
	// 更新列宽
	for i, cell := range row {
		if i < len(t.widths) && visibleLen(cell) > t.widths[i] {
			t.widths[i] = visibleLen(cell)
		}
	}
	t.rows = append(t.rows, row)
}

// Len 数据行数
func (t *Table) Len() int {
	return len(t.rows)
}

// Render 渲染表格到标准输出
func (t *Table) Render() {
	t.RenderTo(os.Stdout)
}

// RenderTo 渲染表格到w
func (t *Table) RenderTo(w io.Writer) {
	// 打印表头
	headerColor := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		headerColor.Fprint(w, pad(h, t.widths[i]))
		fmt.Fprint(w, "  ")
	}
	fmt.Fprintln(w)

	// 打印分隔线
	for i := range t.headers {
		fmt.Fprint(w, strings.Repeat("-", t.widths[i]))
		fmt.Fprint(w, "  ")
	}
	fmt.Fprintln(w)

	// 打印数据行
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(t.widths) {
				fmt.Fprint(w, pad(cell, t.widths[i]))
				fmt.Fprint(w, "  ")
			}
		}
		fmt.Fprintln(w)
	}
}

// pad 按可见宽度右补空格，着色字符串的转义序列不计入宽度
func pad(s string, width int) string {
	if n := visibleLen(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func visibleLen(s string) int {
	n, escaped := 0, false
	for _, r := range s {
		switch {
		case r == '\x1b':
			escaped = true
		case escaped:
			if r == 'm' {
				escaped = false
			}
		default:
			n++
		}
	}
	return n
}
