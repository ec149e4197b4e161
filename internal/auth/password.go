package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns a bcrypt hash of the password using DefaultCost.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword compares a bcrypt hashed password with its possible plaintext equivalent.
func CheckPassword(hash string, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Operator - учётная запись оператора из конфигурации
type Operator struct {
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
	IsAdmin      bool   `yaml:"admin"`
}

// Operators - статический список операторов
type Operators []Operator

// Authenticate проверяет имя и пароль; найденный оператор возвращается по значению
func (ops Operators) Authenticate(name, password string) (Operator, bool) {
	for _, op := range ops {
		if op.Name == name && CheckPassword(op.PasswordHash, password) {
			return op, true
		}
	}
	return Operator{}, false
}
