/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package folders

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Index lists a hydrophone's folders from its S3 bucket.
type S3Index struct {
	client s3.ListObjectsV2APIClient
	root   Root
	logger zerolog.Logger
}

// NewS3Index creates a folder index for root backed by client.
func NewS3Index(client s3.ListObjectsV2APIClient, root Root, logger zerolog.Logger) *S3Index {
	return &S3Index{
		client: client,
		root:   root,
		logger: logger.With().Str("component", "folder_index").Str("node", root.Node).Logger(),
	}
}

// ListFolders returns every folder id under the node's hls prefix in ascending order.
// Entries that are not unix timestamps are skipped.
func (idx *S3Index) ListFolders(ctx context.Context) ([]ID, error) {
	paginator := s3.NewListObjectsV2Paginator(idx.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(idx.root.Bucket),
		Prefix:    aws.String(idx.root.Prefix()),
		Delimiter: aws.String("/"),
	})

	var ids []ID
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list folders in s3://%s/%s: %w", idx.root.Bucket, idx.root.Prefix(), err)
		}
		for _, cp := range page.CommonPrefixes {
			name := aws.ToString(cp.Prefix)
			id, err := ParseID(name)
			if err != nil {
				idx.logger.Debug().Str("prefix", name).Msg("skipping non-timestamp folder")
				continue
			}
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	idx.logger.Info().Int("folders", len(ids)).Msg("found folders for hydrophone")
	return ids, nil
}
