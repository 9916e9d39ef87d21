package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourcesOfDerivesGuardLists(t *testing.T) {
	require.Equal(t,
		[]PartyStatus{PartyInvited, PartyPendingConfirmation},
		SourcesOf(PartyActive, PartyTransitions))
	require.Equal(t,
		[]PartyStatus{PartyActive, PartyInvited, PartyPendingConfirmation},
		SourcesOf(PartyRemoved, PartyTransitions))
	require.Equal(t,
		[]QuoteStatus{QuoteSubmitted, QuoteUnderReview},
		SourcesOf(QuoteNegotiationRequested, QuoteTransitions))
	require.Equal(t,
		[]RequisitionStatus{RequisitionOpen, RequisitionResponded},
		SourcesOf(RequisitionClosed, RequisitionTransitions))
	require.Equal(t,
		[]EnquiryStatus{EnquiryAcknowledged, EnquirySent, EnquiryViewed},
		SourcesOf(EnquiryDeclined, EnquiryTransitions))
	require.Empty(t, SourcesOf(EnquirySent, EnquiryTransitions))
}

func TestCanTransitionMSChainIsStrict(t *testing.T) {
	require.True(t, CanTransition(MSPending, MSUnderReview, MSReviewTransitions))
	require.True(t, CanTransition(MSSiteVisitCompleted, MSApproved, MSReviewTransitions))
	require.False(t, CanTransition(MSUnderReview, MSApproved, MSReviewTransitions))
	require.False(t, CanTransition(MSNotRequired, MSRejected, MSReviewTransitions))
}

func TestCanTransitionCPDecidesOnlyPending(t *testing.T) {
	for _, to := range []CPStatus{CPSatisfied, CPRejected, CPWaived} {
		require.True(t, CanTransition(CPPending, to, CPTransitions))
		require.False(t, CanTransition(CPSatisfied, to, CPTransitions))
	}
}

func TestLenderChainPaidOnlyFromApproved(t *testing.T) {
	require.Equal(t,
		[]LenderApprovalStatus{DrawdownApproved},
		SourcesOf(DrawdownPaid, LenderApprovalTransitions))
	require.True(t, DrawdownTerminal(DrawdownPaid))
	require.True(t, DrawdownTerminal(DrawdownRejected))
	require.False(t, DrawdownTerminal(DrawdownApproved))
}
