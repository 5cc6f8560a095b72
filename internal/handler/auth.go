package handler

import (
	"context"
	"strings"
	"time"

	"github.com/veldrin/server/internal/net"
	"github.com/veldrin/server/internal/net/packet"
	"go.uber.org/zap"
)

const (
	loginOK            byte = 0x00
	loginWrongPass     byte = 0x01
	loginNoAccount     byte = 0x02
	loginBanned        byte = 0x03
	loginAlreadyOnline byte = 0x04
)

// HandleVersion processes C_OPCODE_VERSION.
// Format: [opcode][4B client version]
func HandleVersion(sess *net.Session, r *packet.Reader, deps *Deps) {
	version := r.ReadD()
	if version != deps.Config.Server.ClientVersion {
		deps.Log.Info("client version mismatch",
			zap.Int32("got", version),
			zap.Int32("want", deps.Config.Server.ClientVersion),
			zap.Uint64("session", sess.ID))
		sess.Close()
		return
	}

	w := packet.NewWriterWithOpcode(packet.S_OPCODE_VERSION_OK)
	w.WriteD(int32(deps.Config.Server.ID))
	sess.Send(w.Bytes())
	sess.SetState(packet.StateVersionOK)
}

// HandleLogin processes C_OPCODE_LOGIN.
// Format: [opcode][account\0][password\0]
func HandleLogin(sess *net.Session, r *packet.Reader, deps *Deps) {
	accountName := strings.ToLower(r.ReadS())
	password := r.ReadS()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	account, err := deps.AccountRepo.Load(ctx, accountName)
	if err != nil {
		deps.Log.Error("account load failed", zap.Error(err), zap.String("account", accountName))
		sendLoginResult(sess, loginWrongPass)
		return
	}

	if account == nil {
		if !deps.Config.Server.AutoCreateAccounts {
			sendLoginResult(sess, loginNoAccount)
			return
		}
		account, err = deps.AccountRepo.Create(ctx, accountName, password, sess.IP)
		if err != nil {
			deps.Log.Error("account create failed", zap.Error(err), zap.String("account", accountName))
			sendLoginResult(sess, loginWrongPass)
			return
		}
		deps.Log.Info("auto-created account", zap.String("account", accountName))
	} else if !deps.AccountRepo.ValidatePassword(account.PasswordHash, password) {
		sendLoginResult(sess, loginWrongPass)
		return
	}

	if account.Banned {
		deps.Log.Info("banned account login attempt", zap.String("account", accountName))
		sendLoginResult(sess, loginBanned)
		return
	}
	if account.Online {
		sendLoginResult(sess, loginAlreadyOnline)
		return
	}

	if err := deps.AccountRepo.SetOnline(ctx, accountName, true); err != nil {
		deps.Log.Error("set online failed", zap.Error(err), zap.String("account", accountName))
	}

	sess.AccountName = accountName
	sess.SetState(packet.StateAuthenticated)
	sendLoginResult(sess, loginOK)
}

func sendLoginResult(sess *net.Session, code byte) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_LOGIN_RESULT)
	w.WriteC(code)
	sess.Send(w.Bytes())
	if code != loginOK {
		sess.Close()
	}
}
