package migrations

import "embed"

// UpFiles 嵌入全部 up 迁移脚本，供 internal/migrations 执行。
//
//go:embed *.up.sql
var UpFiles embed.FS
