package main

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/google/uuid"
)

// sagaSellRequest é o payload dos branches /saga/sell do serviço POS
type sagaSellRequest struct {
	OrderID    string `json:"order_id"`
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
}

// DTMSeller vende através de uma saga do DTM com um único branch no POS
type DTMSeller struct {
	dtmServer string
	posURL    string
}

// NewDTMSeller cria uma nova instância de DTMSeller
func NewDTMSeller(dtmServer, posURL string) *DTMSeller {
	return &DTMSeller{dtmServer: dtmServer, posURL: strings.TrimRight(posURL, "/")}
}

// Sell submete a saga e espera o resultado
func (s *DTMSeller) Sell(ctx context.Context, menuItemID string, quantity int) (SaleOutcome, error) {
	gid, err := genGid(s.dtmServer)
	if err != nil {
		return OutcomeFailed, err
	}

	saga := dtmcli.NewSaga(s.dtmServer, gid).
		Add(
			s.posURL+"/saga/sell",
			s.posURL+"/saga/sell/compensate",
			&sagaSellRequest{
				OrderID:    uuid.New().String(),
				MenuItemID: menuItemID,
				Quantity:   quantity,
			},
		)
	saga.WaitResult = true

	if err := saga.Submit(); err != nil {
		if strings.Contains(err.Error(), dtmcli.ResultFailure) {
			return OutcomeRejected, nil
		}
		return OutcomeFailed, err
	}

	log.Printf("✅ [LOADGEN] saga %s committed", gid)
	return OutcomeSold, nil
}

// genGid evita o panic de MustGenGid quando o DTM está fora do ar
func genGid(server string) (gid string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("failed to generate gid: dtm server unavailable")
		}
	}()
	return dtmcli.MustGenGid(server), nil
}
