/*
 * Copyright 2022 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package eventsync

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// LogFetcher is the chain source capability of an event processor. Logs of
// one FetchLogs call must come back ordered by (block number, log index).
type LogFetcher interface {
	// HeadBlock returns the number of the best block the source knows.
	HeadBlock(ctx context.Context) (head uint64, err error)
	// FetchLogs returns the logs the contract emitted inside the inclusive
	// block range.
	FetchLogs(ctx context.Context, contract string, from, to uint64) (logs []ethtypes.Log, err error)
	// Close releases the underlying connection.
	Close()
}

// ethFetcher reads contract logs through an ethereum json-rpc endpoint.
type ethFetcher struct {
	client *ethclient.Client
}

// DialFetcher connects a log fetcher to an ethereum json-rpc endpoint.
func DialFetcher(url string) (f LogFetcher, err error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		err = errors.Wrapf(err, "dial evm node %s failed", url)
		return
	}
	f = &ethFetcher{client: client}
	return
}

func (f *ethFetcher) HeadBlock(ctx context.Context) (head uint64, err error) {
	var h *ethtypes.Header
	if h, err = f.client.HeaderByNumber(ctx, nil); err != nil {
		err = errors.Wrap(err, "fetch chain head failed")
		return
	}
	head = h.Number.Uint64()
	return
}

func (f *ethFetcher) FetchLogs(ctx context.Context, contract string, from, to uint64) (logs []ethtypes.Log, err error) {
	fq := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{common.HexToAddress(contract)},
	}
	if logs, err = f.client.FilterLogs(ctx, fq); err != nil {
		err = errors.Wrapf(err, "fetch logs [%d, %d] of %s failed", from, to, contract)
		return
	}
	return
}

func (f *ethFetcher) Close() {
	f.client.Close()
}
