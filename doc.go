/*
Package cardano builds, signs and submits Cardano transactions.

A TxBuilder selects utxos from a ChainContext, assembles outputs (including
script outputs locked by a datum hash), attaches redeemers and collateral for
plutus script inputs, settles on an exact fee and signs with the given keys.
The signed transaction is handed to a SubmissionClient, which sends it over a
Session to ogmios or directly to a node's local tx submission protocol and
reports whether the ledger accepted it.

Chain queries are served by OgmiosChain, BlockfrostChain or, for tests and
dry runs, MemoryChain. Client wires these together from a Config.
*/

package cardano
