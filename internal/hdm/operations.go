package hdm

import (
	"context"

	"github.com/muurk/hdmctl/internal/protocol"
)

// Login checks credentials and connectivity with a bare login exchange
func (c *Client) Login(ctx context.Context, dev *Device) error {
	_, err := c.Do(ctx, dev, protocol.CodeLogin, nil)
	return err
}

// PrintReceipt prints a sale receipt. Zero Seq and Mode are filled from the
// device, as are the department for simple receipts and the external POS flag.
// The request is copied, so req keeps its zero Seq; use WithTrace to see the
// payload as sent.
func (c *Client) PrintReceipt(ctx context.Context, dev *Device, req *ReceiptRequest) (*Receipt, error) {
	if req == nil {
		return nil, protocol.NewConfigError("receipt request is empty")
	}
	if err := dev.Validate(); err != nil {
		return nil, err
	}

	r := *req
	if r.Mode == 0 {
		r.Mode = dev.Mode
	}
	if r.Mode == ModeSimple && r.Dep == 0 {
		r.Dep = dev.Department
	}
	if r.Mode != ModeItems {
		r.Items = nil
	}
	if r.EMarks == nil {
		r.EMarks = []string{}
	}
	r.UseExtPOS = r.UseExtPOS || (dev.UseExtPOS && r.PaidAmountCard > 0)

	if err := r.Validate(); err != nil {
		return nil, err
	}

	resp, err := c.Do(ctx, dev, protocol.CodePrintReceipt, &r)
	if err != nil {
		return nil, err
	}

	var receipt Receipt
	if err := resp.Decode(&receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// PrintReturn prints a return receipt against an earlier receipt
func (c *Client) PrintReturn(ctx context.Context, dev *Device, req *ReturnRequest) (*Receipt, error) {
	if req == nil {
		return nil, protocol.NewConfigError("return request is empty")
	}
	if err := dev.Validate(); err != nil {
		return nil, err
	}

	r := *req
	if err := r.Validate(); err != nil {
		return nil, err
	}

	resp, err := c.Do(ctx, dev, protocol.CodePrintReturn, &r)
	if err != nil {
		return nil, err
	}

	var receipt Receipt
	if err := resp.Decode(&receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// SyncTime asks the device to synchronize its clock. It runs on the
// device's sync session so it never disturbs the sales session.
func (c *Client) SyncTime(ctx context.Context, dev *Device) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	_, err := c.do(ctx, dev, dev.sessionID(SessionKindSync), protocol.CodeSyncTime, &seqRequest{})
	return err
}

// Logout ends the cashier's shift on the device. The sequence is bumped
// before connecting and the bumped value is sent, so a logout that never
// reaches the device still uses up a number. A delivered logout moves the
// sequence by three: the bump, the login and the logout message.
func (c *Client) Logout(ctx context.Context, dev *Device) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	_, err := c.Do(ctx, dev, protocol.CodeLogout, &seqRequest{bump: true})
	return err
}
