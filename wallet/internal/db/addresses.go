package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateAddresses inserts a batch of derived addresses atomically. It
// returns the created address infos in input order. Inserting an address or
// derivation index that already exists for the wallet fails the whole batch.
func (s *SQLStore) CreateAddresses(ctx context.Context,
	params CreateAddressesParams) ([]AddressInfo, error) {

	query := `
		INSERT INTO addresses (
			wallet_id, address, script_pub_key, address_branch,
			address_index, is_used, created_at
		)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		RETURNING id
	`

	now := time.Now().Unix()
	infos := make([]AddressInfo, 0, len(params.Addresses))

	err := s.withinTx(ctx, func(tx *SQLStore) error {
		for _, addr := range params.Addresses {
			var id int64
			err := tx.q.QueryRowContext(ctx, query,
				int64(params.WalletID), addr.Address,
				addr.ScriptPubKey, int64(addr.Branch),
				int64(addr.Index), now,
			).Scan(&id)
			if err != nil {
				return fmt.Errorf("insert address %s: %w",
					addr.Address, err)
			}

			infos = append(infos, AddressInfo{
				ID:           id,
				WalletID:     params.WalletID,
				Address:      addr.Address,
				ScriptPubKey: addr.ScriptPubKey,
				Branch:       addr.Branch,
				Index:        addr.Index,
				CreatedAt:    time.Unix(now, 0).UTC(),
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return infos, nil
}

// GetAddress retrieves a single address of a wallet. It returns
// ErrAddressNotFound if the wallet does not know the address.
func (s *SQLStore) GetAddress(ctx context.Context, walletID uint32,
	address string) (*AddressInfo, error) {

	query := `
		SELECT id, wallet_id, address, script_pub_key, address_branch,
			address_index, is_used, created_at
		FROM addresses
		WHERE wallet_id = $1 AND address = $2
	`

	var row addressRow
	err := s.q.QueryRowContext(
		ctx, query, int64(walletID), address,
	).Scan(
		&row.id, &row.walletID, &row.address, &row.scriptPubKey,
		&row.branch, &row.index, &row.isUsed, &row.createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("address %s: %w", address,
				ErrAddressNotFound)
		}

		return nil, fmt.Errorf("get address: %w", err)
	}

	return buildAddressInfo(row)
}

// ListAddresses returns the addresses of a wallet matching the query,
// ordered by branch, then derivation index.
func (s *SQLStore) ListAddresses(ctx context.Context,
	query ListAddressesQuery) ([]AddressInfo, error) {

	stmt := `
		SELECT id, wallet_id, address, script_pub_key, address_branch,
			address_index, is_used, created_at
		FROM addresses
		WHERE wallet_id = $1
	`
	args := []any{int64(query.WalletID)}

	if query.Branch != nil {
		args = append(args, int64(*query.Branch))
		stmt += fmt.Sprintf(" AND address_branch = $%d", len(args))
	}

	if query.OnlyUsed {
		stmt += " AND is_used = TRUE"
	}

	stmt += " ORDER BY address_branch, address_index"

	rows, err := s.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var addrs []AddressInfo
	for rows.Next() {
		var row addressRow
		err := rows.Scan(
			&row.id, &row.walletID, &row.address,
			&row.scriptPubKey, &row.branch, &row.index,
			&row.isUsed, &row.createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan address row: %w", err)
		}

		info, err := buildAddressInfo(row)
		if err != nil {
			return nil, err
		}

		addrs = append(addrs, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate address rows: %w", err)
	}

	return addrs, nil
}

// MarkAddressesUsed flags the given addresses of a wallet as having
// transaction history. Addresses already flagged are left untouched. It
// returns the number of addresses newly flagged.
func (s *SQLStore) MarkAddressesUsed(ctx context.Context, walletID uint32,
	addresses []string) (int64, error) {

	query := `
		UPDATE addresses
		SET is_used = TRUE
		WHERE wallet_id = $1 AND address = $2 AND is_used = FALSE
	`

	var marked int64
	err := s.withinTx(ctx, func(tx *SQLStore) error {
		for _, addr := range addresses {
			res, err := tx.q.ExecContext(
				ctx, query, int64(walletID), addr,
			)
			if err != nil {
				return fmt.Errorf("mark address %s used: %w",
					addr, err)
			}

			rowsAffected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf(
					"mark address rows affected: %w", err,
				)
			}

			marked += rowsAffected
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return marked, nil
}

// addressRow mirrors a row of the addresses table.
type addressRow struct {
	id           int64
	walletID     int64
	address      string
	scriptPubKey []byte
	branch       int64
	index        int64
	isUsed       bool
	createdAt    int64
}

// buildAddressInfo constructs an AddressInfo from the given address row.
func buildAddressInfo(row addressRow) (*AddressInfo, error) {
	walletID, err := int64ToUint32(row.walletID)
	if err != nil {
		return nil, err
	}

	branch, err := int64ToUint32(row.branch)
	if err != nil {
		return nil, err
	}

	index, err := int64ToUint32(row.index)
	if err != nil {
		return nil, err
	}

	return &AddressInfo{
		ID:           row.id,
		WalletID:     walletID,
		Address:      row.address,
		ScriptPubKey: row.scriptPubKey,
		Branch:       Branch(branch),
		Index:        index,
		Used:         row.isUsed,
		CreatedAt:    time.Unix(row.createdAt, 0).UTC(),
	}, nil
}
