package identity

import (
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestLoadWallet_Empty(t *testing.T) {
	w, err := LoadWallet(filepath.Join(t.TempDir(), "keystore"), "")
	if err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	if w != nil {
		t.Fatal("expected nil wallet for empty keystore")
	}
}

func TestCreateAndLoadWallet(t *testing.T) {
	dir := t.TempDir()

	created, err := CreateWallet(dir, "pw-1234")
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if _, err := CreateWallet(dir, "pw-1234"); err == nil {
		t.Error("expected error creating a second wallet")
	}

	loaded, err := LoadWallet(dir, "pw-1234")
	if err != nil || loaded == nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	if loaded.Address() != created.Address() {
		t.Errorf("address mismatch: %s vs %s", loaded.Address().Hex(), created.Address().Hex())
	}
	if loaded.KeystoreDir() != dir {
		t.Errorf("KeystoreDir = %s", loaded.KeystoreDir())
	}
}

func TestImportWalletSignAuthVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	hexKey := "0x" + hex.EncodeToString(crypto.FromECDSA(key))

	w, err := ImportWallet(t.TempDir(), hexKey, "pw")
	if err != nil {
		t.Fatalf("ImportWallet: %v", err)
	}
	if w.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("imported address mismatch")
	}

	addr, sig, msg, err := w.SignAuth()
	if err != nil {
		t.Fatalf("SignAuth: %v", err)
	}
	if err := VerifyAuth(addr, sig, msg, time.Now()); err != nil {
		t.Errorf("VerifyAuth: %v", err)
	}
	if err := VerifyAuth(addr, sig, msg, time.Now().Add(time.Hour)); err == nil {
		t.Error("expected stale message to fail")
	}
	if err := VerifyAuth("0x0000000000000000000000000000000000000001", sig, msg, time.Now()); err == nil {
		t.Error("expected address mismatch to fail")
	}
	if err := VerifyAuth(addr, sig, "other:123", time.Now()); err == nil {
		t.Error("expected wrong prefix to fail")
	}

	w.ClearCachedKey()
	if _, _, _, err := w.SignAuth(); err != nil {
		t.Errorf("SignAuth after ClearCachedKey: %v", err)
	}
}

func TestSignAuthWrongPassword(t *testing.T) {
	dir := t.TempDir()
	if _, err := CreateWallet(dir, "right"); err != nil {
		t.Fatal(err)
	}
	w, err := LoadWallet(dir, "wrong")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := w.SignAuth(); err == nil {
		t.Error("expected decrypt failure with wrong password")
	}
}

func TestImportWalletInvalidKey(t *testing.T) {
	if _, err := ImportWallet(t.TempDir(), "zz", "pw"); err == nil {
		t.Error("expected error for invalid key")
	}
}
