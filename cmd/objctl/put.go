package main

import (
	"fmt"
	"io"
	"os"

	"cloudstore/internal/relay"
	"cloudstore/internal/service"
	"cloudstore/internal/storage"

	"github.com/spf13/cobra"
)

var (
	putLimit           int64
	putHash            string
	putContentType     string
	putContentEncoding string
	putHeaders         []string
)

// putCmd 上传本地文件，"-" 表示标准输入
var putCmd = &cobra.Command{
	Use:   "put <key> <file|->",
	Short: "Upload a file or stdin to the given key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := relay.ParseHashAlgorithm(putHash)
		if err != nil {
			return err
		}
		header, err := parseHeaders(putHeaders)
		if err != nil {
			return err
		}

		var (
			src  io.Reader = os.Stdin
			size int64
		)
		if args[1] != "-" {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			src = f
			if info, err := f.Stat(); err == nil && info.Mode().IsRegular() {
				size = info.Size()
			}
		}

		result, err := objects.Put(cmd.Context(), service.PutInput{
			Key:    args[0],
			Reader: src,
			Options: storage.WriteOptions{
				Limit:           putLimit,
				Hash:            hash,
				ContentType:     putContentType,
				ContentEncoding: putContentEncoding,
				Header:          header,
				Size:            size,
			},
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\t%d bytes\n", result.Location.Path, result.Location.Size)
		if result.Location.Digest != "" {
			fmt.Fprintf(out, "digest\t%s\n", result.Location.Digest)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(putCmd)

	putCmd.Flags().Int64Var(&putLimit, "limit", 0, "reject uploads larger than this many bytes (0 uses UPLOAD_LIMIT_BYTES)")
	putCmd.Flags().StringVar(&putHash, "hash", "", "digest algorithm: md5, sha1, sha128 or sha256")
	putCmd.Flags().StringVar(&putContentType, "content-type", "", "Content-Type stored with the object")
	putCmd.Flags().StringVar(&putContentEncoding, "content-encoding", "", "declared Content-Encoding: deflate or gzip")
	putCmd.Flags().StringArrayVar(&putHeaders, "header", nil, "extra object header as name=value, repeatable")
}
