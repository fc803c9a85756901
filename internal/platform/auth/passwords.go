package auth

import "golang.org/x/crypto/bcrypt"

// PasswordService is the opaque hash/verify capability the core consumes;
// it never inspects hash contents.
type PasswordService interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

type BcryptPasswords struct {
	Cost int
}

func (p BcryptPasswords) Hash(password string) (string, error) {
	cost := p.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (p BcryptPasswords) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
