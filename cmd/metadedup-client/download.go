package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/metadedup/metadedup/internal/client/downloader"
	"github.com/metadedup/metadedup/internal/config"
	"github.com/metadedup/metadedup/internal/constants"
)

// runDownload restores a file by querying every cloud's meta and data
// connections, grouping the returned shares by secret ID, and decoding
// each in ascending order into the output file.
func runDownload(a cliArgs, cfg *config.Config, policy constants.KMPolicy) error {
	fpSize := a.level.HashSize()

	perCloud := make([][]downloader.ShareRecord, a.numClouds)
	foundAny := false
	for i := 0; i < a.numClouds; i++ {
		metaConn, err := dialCloud(cfg.MetaAddrs[i], uint32(a.userID))
		if err != nil {
			return err
		}
		entries, ok, err := downloader.FetchMetaList(metaConn, 0, a.filename, a.filename)
		metaConn.Close()
		if err != nil {
			return fmt.Errorf("cloud %d: fetch meta list: %w", i, err)
		}
		if !ok {
			continue
		}
		if err := downloader.ValidateMetaListAscending(i, entries); err != nil {
			return err
		}
		foundAny = true

		dataConn, err := dialCloud(cfg.DataAddrs[i], uint32(a.userID))
		if err != nil {
			return err
		}
		records, ok, err := downloader.FetchShares(dataConn, a.filename, fpSize)
		dataConn.Close()
		if err != nil {
			return fmt.Errorf("cloud %d: fetch shares: %w", i, err)
		}
		if ok {
			perCloud[i] = records
		}
	}
	if !foundAny {
		return fmt.Errorf("metadedup-client: %s: no such backed-up path", a.filename)
	}

	grouped := make(map[int64][]downloader.CloudShare)
	secretSize := make(map[int64]int)
	for cloudIndex, records := range perCloud {
		for _, r := range records {
			grouped[r.SecretID] = append(grouped[r.SecretID], downloader.CloudShare{
				CloudIndex: cloudIndex,
				SecretID:   r.SecretID,
				ShareID:    r.ShareID,
				Body:       r.Body,
			})
			secretSize[r.SecretID] = int(r.SecretSize)
		}
	}

	ids := make([]int64, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	decoder, err := downloader.NewDecoder(downloader.Params{
		NumClouds: a.numClouds,
		Parity:    a.parity,
		HashSize:  fpSize,
	}, a.variant)
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}

	out, err := os.Create(a.filename)
	if err != nil {
		return fmt.Errorf("create %s: %w", a.filename, err)
	}
	defer out.Close()

	for _, id := range ids {
		plain, err := decoder.DecodeSecret(id, secretSize[id], grouped[id], false)
		if err != nil {
			return fmt.Errorf("decode secret %d: %w", id, err)
		}
		if _, err := out.Write(plain); err != nil {
			return fmt.Errorf("write %s: %w", a.filename, err)
		}
	}
	return nil
}
