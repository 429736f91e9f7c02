package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/axel-blaze-11/pheonix/internal/storage"
)

// Directory errors
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidPIN      = errors.New("invalid PIN")
	ErrProfileNotFound = errors.New("profile not found")
)

// User is a PSP customer. The PIN is only ever held as a bcrypt hash.
type User struct {
	VPA      string
	Name     string
	BankCode string
	IFSC     string
}

// Profile is what a Payee PSP answers a ReqValAdd with.
type Profile struct {
	VPA      string
	Name     string
	MaskName string
	Code     string
	Type     string
	IFSC     string
	AccType  string
	IIN      string
	PType    string
}

// Directory stores PSP users and payee profiles.
type Directory struct {
	db      *sql.DB
	pinCost int
}

// OpenDirectory opens the directory at dbPath.
func OpenDirectory(dbPath string) (*Directory, error) {
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}
	d := &Directory{db: db, pinCost: bcrypt.DefaultCost}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Directory) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			vpa TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			bank_code TEXT,
			ifsc TEXT,
			pin_hash BLOB
		);

		CREATE TABLE IF NOT EXISTS profiles (
			vpa TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			mask_name TEXT,
			code TEXT,
			type TEXT,
			ifsc TEXT,
			acc_type TEXT,
			iin TEXT,
			p_type TEXT
		);
	`
	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *Directory) Close() error {
	return d.db.Close()
}

// SetPINCost changes the bcrypt cost used for new PINs.
func (d *Directory) SetPINCost(cost int) {
	d.pinCost = cost
}

// UpsertUser stores u with the given PIN.
func (d *Directory) UpsertUser(ctx context.Context, u User, pin string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), d.pinCost)
	if err != nil {
		return fmt.Errorf("failed to hash PIN for %s: %w", u.VPA, err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO users (vpa, name, bank_code, ifsc, pin_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(vpa) DO UPDATE SET
			name = excluded.name,
			bank_code = excluded.bank_code,
			ifsc = excluded.ifsc,
			pin_hash = excluded.pin_hash
	`, u.VPA, u.Name, u.BankCode, u.IFSC, hash)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.VPA, err)
	}
	return nil
}

// GetUser returns the user for vpa.
func (d *Directory) GetUser(ctx context.Context, vpa string) (*User, error) {
	var (
		u        User
		bankCode sql.NullString
		ifsc     sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `SELECT vpa, name, bank_code, ifsc FROM users WHERE vpa = ?`, vpa).
		Scan(&u.VPA, &u.Name, &bankCode, &ifsc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", vpa, ErrUserNotFound)
	}
	if err != nil {
		return nil, err
	}
	u.BankCode = bankCode.String
	u.IFSC = ifsc.String
	return &u, nil
}

// VerifyPIN checks pin against the stored hash for vpa.
func (d *Directory) VerifyPIN(ctx context.Context, vpa, pin string) error {
	var hash []byte
	err := d.db.QueryRowContext(ctx, `SELECT pin_hash FROM users WHERE vpa = ?`, vpa).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", vpa, ErrUserNotFound)
	}
	if err != nil {
		return err
	}
	if len(hash) == 0 || bcrypt.CompareHashAndPassword(hash, []byte(pin)) != nil {
		return ErrInvalidPIN
	}
	return nil
}

// UpsertProfile stores p.
func (d *Directory) UpsertProfile(ctx context.Context, p Profile) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO profiles (vpa, name, mask_name, code, type, ifsc, acc_type, iin, p_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vpa) DO UPDATE SET
			name = excluded.name,
			mask_name = excluded.mask_name,
			code = excluded.code,
			type = excluded.type,
			ifsc = excluded.ifsc,
			acc_type = excluded.acc_type,
			iin = excluded.iin,
			p_type = excluded.p_type
	`, p.VPA, p.Name, p.MaskName, p.Code, p.Type, p.IFSC, p.AccType, p.IIN, p.PType)
	if err != nil {
		return fmt.Errorf("failed to upsert profile %s: %w", p.VPA, err)
	}
	return nil
}

// GetProfile returns the profile for vpa.
func (d *Directory) GetProfile(ctx context.Context, vpa string) (*Profile, error) {
	var (
		p                                          Profile
		mask, code, typ, ifsc, accType, iin, pType sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT vpa, name, mask_name, code, type, ifsc, acc_type, iin, p_type
		FROM profiles WHERE vpa = ?
	`, vpa).Scan(&p.VPA, &p.Name, &mask, &code, &typ, &ifsc, &accType, &iin, &pType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", vpa, ErrProfileNotFound)
	}
	if err != nil {
		return nil, err
	}
	p.MaskName = mask.String
	p.Code = code.String
	p.Type = typ.String
	p.IFSC = ifsc.String
	p.AccType = accType.String
	p.IIN = iin.String
	p.PType = pType.String
	return &p, nil
}
