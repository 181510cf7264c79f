package cardano

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type BuilderOption func(b *TxBuilder)

// WithChain lets the builder select inputs from addresses, pick collateral,
// fetch protocol parameters and evaluate scripts.
func WithChain(chain ChainContext) BuilderOption {
	return func(b *TxBuilder) {
		b.chain = chain
	}
}

func WithSelectionPolicy(policy SelectionPolicy) BuilderOption {
	return func(b *TxBuilder) {
		b.policy = policy
	}
}

func WithBuilderLogger(logger *zerolog.Logger) BuilderOption {
	return func(b *TxBuilder) {
		b.log = logger
	}
}

type scriptInput struct {
	script   PlutusScript
	datum    PlutusData
	redeemer Redeemer
}

// TxBuilder composes a transaction and balances it. A builder is used for one
// transaction and is not safe for concurrent use.
type TxBuilder struct {
	params  *ProtocolParams
	network Network
	chain   ChainContext
	policy  SelectionPolicy
	log     *zerolog.Logger

	inputs          []Utxo
	scripts         map[TransactionInput]*scriptInput
	inputAddresses  []Address
	outputs         []TransactionOutput
	collateral      *Utxo
	requiredSigners []KeyHash
	validityStart   uint64
	ttl             uint64
}

// NewTxBuilder creates a builder for network. params may be nil when a chain
// context is supplied, in which case they are fetched at build time.
func NewTxBuilder(params *ProtocolParams, network Network, opts ...BuilderOption) *TxBuilder {
	b := &TxBuilder{
		params:  params,
		network: network,
		scripts: map[TransactionInput]*scriptInput{},
		log:     Log(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *TxBuilder) checkAddress(addr Address) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	if !addr.IsForNetwork(b.network) {
		return errors.Wrapf(ErrNetworkMismatch, "address %s is not for %s", addr, b.network)
	}
	return nil
}

func (b *TxBuilder) hasInput(in TransactionInput) bool {
	for _, u := range b.inputs {
		if u.Input.Compare(in) == 0 {
			return true
		}
	}
	return false
}

// AddInput spends utxo. Adding the same reference twice has no effect.
func (b *TxBuilder) AddInput(utxo Utxo) error {
	if err := b.checkAddress(utxo.Output.Address); err != nil {
		return err
	}
	if !b.hasInput(utxo.Input) {
		b.inputs = append(b.inputs, utxo)
	}
	return nil
}

// AddScriptInput spends a script locked utxo. datum must hash to the datum
// hash recorded on the utxo.
func (b *TxBuilder) AddScriptInput(utxo Utxo, script PlutusScript, datum PlutusData, redeemer Redeemer) (err error) {
	if utxo.Output.DatumHash == nil {
		return errors.Wrapf(ErrDatumMismatch, "%s carries no datum hash", utxo.Input)
	}

	hash, err := DatumHash(datum)
	if err != nil {
		return
	}
	if hash != *utxo.Output.DatumHash {
		return errors.Wrapf(
			ErrDatumMismatch,
			"datum hashes to %s, %s records %s",
			hash,
			utxo.Input,
			utxo.Output.DatumHash)
	}

	cred, err := utxo.Output.Address.PaymentCredential()
	if err != nil {
		return
	}
	if cred.Kind != CredentialScript || cred.Hash != script.Hash() {
		return errors.Wrapf(ErrScriptMismatch, "%s is not locked by script %s", utxo.Input, script.Hash())
	}

	if err = b.AddInput(utxo); err != nil {
		return
	}

	redeemer.Tag = RedeemerSpend
	b.scripts[utxo.Input] = &scriptInput{
		script:   script,
		datum:    datum,
		redeemer: redeemer,
	}
	return
}

// AddInputAddress lets the builder pick further inputs from addr when the
// explicit inputs do not cover the outputs and fee.
func (b *TxBuilder) AddInputAddress(addr Address) error {
	if err := b.checkAddress(addr); err != nil {
		return err
	}
	b.inputAddresses = append(b.inputAddresses, addr)
	return nil
}

func (b *TxBuilder) AddOutput(output TransactionOutput) error {
	if err := b.checkAddress(output.Address); err != nil {
		return err
	}
	if err := output.Amount.Validate(); err != nil {
		return err
	}
	b.outputs = append(b.outputs, output)
	return nil
}

func (b *TxBuilder) SetCollateral(utxo Utxo) error {
	if err := b.checkAddress(utxo.Output.Address); err != nil {
		return err
	}
	if err := collateralEligible(utxo); err != nil {
		return err
	}
	b.collateral = &utxo
	return nil
}

func (b *TxBuilder) SetRequiredSigners(keyHashes ...KeyHash) {
	b.requiredSigners = append([]KeyHash{}, keyHashes...)
}

// SetValidityInterval bounds the slots in which the transaction is valid.
// Zero leaves a bound open.
func (b *TxBuilder) SetValidityInterval(lower, upper uint64) error {
	if upper != 0 && lower >= upper {
		return errors.Errorf("validity interval [%d, %d) is empty", lower, upper)
	}
	b.validityStart = lower
	b.ttl = upper
	return nil
}

// ValidFor sets the upper validity bound to the current slot plus slots.
func (b *TxBuilder) ValidFor(ctx context.Context, slots uint64) (err error) {
	if b.chain == nil {
		return errors.New("a chain context is required to read the current slot")
	}
	slot, err := b.chain.CurrentSlot(ctx)
	if err != nil {
		return
	}
	return b.SetValidityInterval(b.validityStart, slot+slots)
}

func (b *TxBuilder) protocolParams(ctx context.Context) (params *ProtocolParams, err error) {
	if b.params != nil {
		return b.params, nil
	}
	if b.chain == nil {
		err = errors.New("protocol parameters or a chain context are required")
		return
	}
	if b.params, err = b.chain.ProtocolParameters(ctx); err != nil {
		return
	}
	return b.params, nil
}

// BuildAndSign balances the transaction, sending what is left to
// changeAddress, and signs it with every key.
func (b *TxBuilder) BuildAndSign(ctx context.Context, keys []*SigningKey, changeAddress Address) (tx *Transaction, err error) {
	if len(b.inputs) == 0 && len(b.inputAddresses) == 0 {
		err = errors.WithStack(ErrNoInputs)
		return
	}

	if err = b.checkAddress(changeAddress); err != nil {
		return
	}

	signers := uniqueSigners(keys)
	if err = b.checkRequiredSigners(signers); err != nil {
		return
	}

	params, err := b.protocolParams(ctx)
	if err != nil {
		return
	}

	for _, out := range b.outputs {
		if err = checkMinLovelace(out, params); err != nil {
			return
		}
	}

	inputs, err := b.resolveInputs(ctx, params)
	if err != nil {
		return
	}

	collateral, err := b.resolveCollateral(ctx, inputs, changeAddress)
	if err != nil {
		return
	}

	tx, err = b.draft(inputs, collateral)
	if err != nil {
		return
	}

	if len(tx.Witnesses.Redeemers) > 0 {
		if err = b.assignExUnits(ctx, tx, params, sumUtxos(inputs), changeAddress); err != nil {
			return
		}
		if err = b.setScriptDataHash(tx, params); err != nil {
			return
		}
	}

	if err = b.balance(tx, params, len(signers), sumUtxos(inputs), changeAddress); err != nil {
		return
	}

	if collateral != nil {
		if err = checkCollateralAmount(*collateral, tx.Body.Fee, params); err != nil {
			return
		}
	}

	if err = SignTransaction(tx, signers...); err != nil {
		return
	}

	encoded, err := tx.Bytes()
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialise transaction")
	}
	if params.MaxTxSize > 0 && uint64(len(encoded)) > params.MaxTxSize {
		return nil, errors.Wrapf(ErrTransactionTooLarge, "%d bytes exceeds %d", len(encoded), params.MaxTxSize)
	}

	id, _ := tx.Id()
	b.log.Info().Msgf(
		"built transaction %s: %d inputs, %d outputs, fee %d, %d bytes",
		id,
		len(tx.Body.Inputs),
		len(tx.Body.Outputs),
		tx.Body.Fee,
		len(encoded))

	return
}

func uniqueSigners(keys []*SigningKey) (out []*SigningKey) {
	seen := map[KeyHash]bool{}
	for _, k := range keys {
		if k == nil || seen[k.KeyHash()] {
			continue
		}
		seen[k.KeyHash()] = true
		out = append(out, k)
	}
	return
}

func (b *TxBuilder) checkRequiredSigners(signers []*SigningKey) error {
	have := map[KeyHash]bool{}
	for _, k := range signers {
		have[k.KeyHash()] = true
	}
	for _, required := range b.requiredSigners {
		if !have[required] {
			return errors.Wrapf(ErrMissingRequiredSigner, "no key for %s", required)
		}
	}
	return nil
}

func checkMinLovelace(out TransactionOutput, params *ProtocolParams) error {
	min, err := MinLovelace(out, params.CoinsPerUtxoByte)
	if err != nil {
		return err
	}
	if out.Amount.Coin < min {
		return errors.Wrapf(ErrOutputBelowMinimum, "output to %s carries %d, needs %d", out.Address, out.Amount.Coin, min)
	}
	return nil
}

func checkCollateralAmount(collateral Utxo, fee uint64, params *ProtocolParams) error {
	if params.CollateralPercent == 0 {
		return nil
	}
	if collateral.Output.Amount.Coin*100 < fee*params.CollateralPercent {
		return errors.Wrapf(
			ErrInsufficientCollateral,
			"%s holds %d, fee %d requires %d%%",
			collateral.Input,
			collateral.Output.Amount.Coin,
			fee,
			params.CollateralPercent)
	}
	return nil
}

func sumOutputs(outputs []TransactionOutput) (total Value) {
	for _, o := range outputs {
		total = total.Add(o.Amount)
	}
	return
}

// resolveInputs returns the explicit inputs plus, when input addresses are
// registered and the explicit inputs fall short, a selection from them.
func (b *TxBuilder) resolveInputs(ctx context.Context, params *ProtocolParams) (inputs []Utxo, err error) {
	inputs = append(inputs, b.inputs...)
	if len(b.inputAddresses) == 0 {
		return
	}

	target := sumOutputs(b.outputs).Add(NewValue(params.MaxFee()))
	if params.CoinsPerUtxoByte > 0 {
		target = target.Add(NewValue(160 * params.CoinsPerUtxoByte))
	}
	need := sumUtxos(inputs).shortfall(target)
	if need.IsZero() {
		return
	}

	if b.chain == nil {
		err = errors.New("a chain context is required to select from input addresses")
		return
	}

	listings, err := FetchUtxos(ctx, b.chain, b.inputAddresses...)
	if err != nil {
		return
	}

	var candidates []Utxo
	for _, addr := range b.inputAddresses {
		for _, u := range listings[addr.String()] {
			if u.Output.DatumHash != nil || u.Output.Address.IsScript() || b.hasInput(u.Input) {
				continue
			}
			if b.collateral != nil && b.collateral.Input == u.Input {
				continue
			}
			candidates = append(candidates, u)
		}
	}

	selected, err := SelectUtxos(candidates, need, b.policy)
	if errors.Is(err, ErrInsufficientFunds) {
		// without the fee headroom the outputs may still be coverable
		outputsOnly := sumUtxos(inputs).shortfall(sumOutputs(b.outputs))
		if !sumUtxos(candidates).GreaterOrEqual(outputsOnly) {
			return nil, err
		}
		selected, err = candidates, nil
	}
	if err != nil {
		return
	}

	b.log.Debug().Msgf("selected %d utxos (%s) for %s", len(selected), b.policy, need)
	inputs = append(inputs, selected...)
	return
}

func (b *TxBuilder) resolveCollateral(ctx context.Context, inputs []Utxo, changeAddress Address) (collateral *Utxo, err error) {
	spent := make([]TransactionInput, len(inputs))
	for i, u := range inputs {
		spent[i] = u.Input
	}

	if b.collateral != nil {
		if isExcluded(b.collateral.Input, spent) {
			err = errors.Wrapf(ErrInvalidCollateral, "%s is also spent as an input", b.collateral.Input)
			return
		}
		return b.collateral, nil
	}

	if len(b.scripts) == 0 {
		return
	}

	if b.chain == nil {
		err = errors.Wrap(ErrNoCollateralAvailable, "no collateral set and no chain context to select one")
		return
	}

	selector := &Selector{Chain: b.chain}
	c, err := selector.Collateral(ctx, changeAddress, spent...)
	if err != nil {
		return
	}
	b.log.Debug().Msgf("selected collateral %s", c.Input)
	return &c, nil
}

// draft lays out the body and witness template: sorted inputs, redeemer
// indexes taken from the sorted order, scripts and datums.
func (b *TxBuilder) draft(inputs []Utxo, collateral *Utxo) (tx *Transaction, err error) {
	tx = &Transaction{Valid: true}

	for _, u := range inputs {
		tx.Body.Inputs = append(tx.Body.Inputs, u.Input)
	}
	sortInputs(tx.Body.Inputs)

	tx.Body.Outputs = append([]TransactionOutput{}, b.outputs...)
	tx.Body.Ttl = b.ttl
	tx.Body.ValidityStart = b.validityStart

	if collateral != nil {
		tx.Body.Collateral = []TransactionInput{collateral.Input}
	}

	if len(b.requiredSigners) > 0 {
		tx.Body.RequiredSigners = append([]KeyHash{}, b.requiredSigners...)
		sort.Slice(tx.Body.RequiredSigners, func(i, j int) bool {
			return tx.Body.RequiredSigners[i].Compare(tx.Body.RequiredSigners[j]) < 0
		})
	}

	datums := map[Hash32]bool{}
	for i, in := range tx.Body.Inputs {
		s, ok := b.scripts[in]
		if !ok {
			continue
		}
		tx.Witnesses.addScript(s.script)

		hash, err2 := DatumHash(s.datum)
		if err2 != nil {
			return nil, err2
		}
		if !datums[hash] {
			datums[hash] = true
			tx.Witnesses.PlutusData = append(tx.Witnesses.PlutusData, s.datum)
		}

		r := s.redeemer
		r.Index = uint32(i)
		tx.Witnesses.Redeemers = append(tx.Witnesses.Redeemers, r)
	}

	return
}

func (b *TxBuilder) languages() map[Language]bool {
	langs := map[Language]bool{}
	for _, s := range b.scripts {
		langs[s.script.Language] = true
	}
	return langs
}

func (b *TxBuilder) setScriptDataHash(tx *Transaction, params *ProtocolParams) error {
	views, err := languageViews(b.languages(), params.CostModels)
	if err != nil {
		return err
	}
	hash, err := ScriptDataHash(tx.Witnesses.Redeemers, tx.Witnesses.PlutusData, views)
	if err != nil {
		return err
	}
	tx.Body.ScriptDataHash = &hash
	return nil
}

// assignExUnits fills redeemers that carry no execution budget, asking the
// chain to evaluate when it can and otherwise sharing the per transaction
// limit evenly.
func (b *TxBuilder) assignExUnits(ctx context.Context, tx *Transaction, params *ProtocolParams, totalIn Value, changeAddress Address) (err error) {
	var missing []int
	for i, r := range tx.Witnesses.Redeemers {
		if r.ExUnits.IsZero() {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return
	}

	share := ExUnits{
		Mem:   params.MaxTxExUnits.Mem / uint64(len(tx.Witnesses.Redeemers)),
		Steps: params.MaxTxExUnits.Steps / uint64(len(tx.Witnesses.Redeemers)),
	}
	for _, i := range missing {
		tx.Witnesses.Redeemers[i].ExUnits = share
	}

	evaluator, ok := b.chain.(TxEvaluator)
	if !ok {
		b.log.Debug().Msgf("no evaluator, %d redeemers get an even share of the budget", len(missing))
		return
	}

	// evaluate a provisional transaction paying the maximum fee
	trial := *tx
	trial.Body.Outputs = append([]TransactionOutput{}, tx.Body.Outputs...)
	trial.Body.Fee = params.MaxFee()
	if change, ok := totalIn.Sub(sumOutputs(trial.Body.Outputs).Add(NewValue(trial.Body.Fee))); ok && !change.IsZero() {
		trial.Body.Outputs = append(trial.Body.Outputs, TransactionOutput{Address: changeAddress, Amount: change})
	}
	if err = b.setScriptDataHash(&trial, params); err != nil {
		return
	}

	encoded, err := trial.Bytes()
	if err != nil {
		return
	}

	budgets, err := evaluator.EvaluateTx(ctx, encoded)
	if errors.Is(err, ErrUnsupported) {
		b.log.Debug().Msgf("evaluator unavailable, %d redeemers get an even share of the budget", len(missing))
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "script evaluation failed")
	}

	for _, budget := range budgets {
		for i := range tx.Witnesses.Redeemers {
			r := &tx.Witnesses.Redeemers[i]
			if r.Tag == budget.Tag && r.Index == budget.Index {
				r.ExUnits = budget.ExUnits
			}
		}
	}
	return
}
